package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListConversationsFilter_DecodesAllFields(t *testing.T) {
	req := require.New(t)

	var filter ListConversationsFilter
	req.NoError(json.Unmarshal([]byte(`{"product_id":101,"buyer_id":"7","seller_id":"shop-9","limit":5,"offset":2}`), &filter))
	req.Equal(float64(101), filter.ProductID)
	req.Equal("7", filter.BuyerID)
	req.Equal("shop-9", filter.SellerID)
	req.Equal(5, filter.Limit)
	req.Equal(2, filter.Offset)
}

func TestClientTime_UnmarshalJSON(t *testing.T) {
	req := require.New(t)
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	var fromString, fromMillis ClientTime
	req.NoError(json.Unmarshal([]byte(`"2024-05-01T12:00:00+02:00"`), &fromString))
	req.NoError(json.Unmarshal([]byte(`1714557600000`), &fromMillis))
	req.True(want.Equal(fromString.Time))
	req.True(want.Equal(fromMillis.Time))

	var bad ClientTime
	req.Error(json.Unmarshal([]byte(`"yesterday"`), &bad))

	var unset *ClientTime
	req.Nil(unset.Ptr())
}
