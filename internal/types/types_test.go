package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageListDecodesLegacyShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ImageList
	}{
		{"array", `["/a.jpg","/b.jpg"]`, ImageList{"/a.jpg", "/b.jpg"}},
		{"single string", `"/a.jpg"`, ImageList{"/a.jpg"}},
		{"json array inside string", `"[\"/a.jpg\",\"/b.jpg\"]"`, ImageList{"/a.jpg", "/b.jpg"}},
		{"null", `null`, ImageList{}},
		{"empty string", `""`, ImageList{}},
		{"blank entries dropped", `["/a.jpg"," ",""]`, ImageList{"/a.jpg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ImageList
			require.NoError(t, json.Unmarshal([]byte(tt.input), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImageListRejectsObjects(t *testing.T) {
	var got ImageList
	assert.Error(t, json.Unmarshal([]byte(`{"url":"/a.jpg"}`), &got))
}

func TestImageListAlwaysEncodesAsArray(t *testing.T) {
	var nilList ImageList
	b, err := json.Marshal(nilList)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(b))
}

func TestCartTotalIsDerivedFromItems(t *testing.T) {
	p1 := &Product{ID: "p1", Price: decimal.RequireFromString("599.99")}
	p2 := &Product{ID: "p2", Price: decimal.RequireFromString("10.50")}
	cart := Cart{Items: []CartItem{
		{ProductID: "p1", Product: p1, Quantity: 2},
		{ProductID: "p2", Product: p2, Quantity: 3},
	}}

	assert.True(t, cart.Total().Equal(decimal.RequireFromString("1231.48")))
	assert.Equal(t, 5, cart.ItemCount())

	p1.Price = decimal.RequireFromString("1")
	assert.True(t, cart.Total().Equal(decimal.RequireFromString("33.50")), "total follows the live price")

	b, err := json.Marshal(cart)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "33.5", out["total"])
	assert.EqualValues(t, 5, out["item_count"])
}

func TestEmptyCartEncodesEmptyItems(t *testing.T) {
	b, err := json.Marshal(Cart{ID: "c1"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"items":[]`)
	assert.Contains(t, string(b), `"total":"0"`)
}
