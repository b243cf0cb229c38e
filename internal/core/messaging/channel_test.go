package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_Tags(t *testing.T) {
	ch := NewChannel("widgets", 2)

	assert.Equal(t, Tag("company/widgets/v2/request"), ch.RequestTag())
	assert.Equal(t, Tag("company/widgets/v2/response"), ch.ResponseTag())
	assert.Equal(t, Tag("company/widgets/v2/refresh"), ch.RefreshTag())
}

func TestChannel_DefaultVersion(t *testing.T) {
	ch := Channel{Store: "widgets"}

	assert.Equal(t, Tag("company/widgets/v1/response"), ch.ResponseTag())
	assert.Equal(t, NewChannel("widgets", 0), NewChannel("widgets", 1))
}

func TestChannel_Deterministic(t *testing.T) {
	a := NewChannel("widgets", 3)
	b := NewChannel("widgets", 3)

	assert.Equal(t, a.RequestTag(), b.RequestTag())
	assert.Equal(t, a.ResponseTag(), b.ResponseTag())
}

func TestChannel_VersionsDoNotCollide(t *testing.T) {
	v1 := NewChannel("widgets", 1)
	v2 := NewChannel("widgets", 2)

	tags := map[Tag]bool{
		v1.RequestTag():  true,
		v1.ResponseTag(): true,
	}
	assert.False(t, tags[v2.RequestTag()])
	assert.False(t, tags[v2.ResponseTag()])
}

func TestChannel_CaseSensitive(t *testing.T) {
	assert.NotEqual(t, NewChannel("Widgets", 1).ResponseTag(), NewChannel("widgets", 1).ResponseTag())
}

func TestChannel_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ch      Channel
		wantErr bool
	}{
		{"valid", NewChannel("widgets", 1), false},
		{"custom namespace", Channel{Namespace: "acme", Store: "orders", Version: 4}, false},
		{"empty store", Channel{Version: 1}, true},
		{"blank store", Channel{Store: "  "}, true},
		{"slash in store", Channel{Store: "a/b"}, true},
		{"glob in store", Channel{Store: "wid*"}, true},
		{"brace in namespace", Channel{Namespace: "{x}", Store: "widgets"}, true},
		{"negative version", Channel{Store: "widgets", Version: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ch.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTag_Kind(t *testing.T) {
	tests := []struct {
		tag   Tag
		kind  Kind
		valid bool
	}{
		{"company/widgets/v1/request", KindRequest, true},
		{"company/widgets/v1/response", KindResponse, true},
		{"company/widgets/v1/refresh", KindRefresh, true},
		{"company/widgets/v1/other", "other", false},
		{"response", "", false},
		{"/response", KindResponse, false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.tag), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.tag.Kind())
			assert.Equal(t, tt.valid, tt.tag.Valid())
		})
	}
}
