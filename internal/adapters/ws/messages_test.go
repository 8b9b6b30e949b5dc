package ws

import (
	"errors"
	"testing"

	"troffee-auction-engine/internal/domain/shared"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"ping", `{"type":"ping"}`, nil},
		{"bid with string amount", `{"type":"place_bid","auction_id":"5f1f7bd2-2d7b-4d51-9d38-0f7c6b7a2a11","amount":"1100.50"}`, nil},
		{"bid with numeric amount", `{"type":"place_bid","auction_id":"5f1f7bd2-2d7b-4d51-9d38-0f7c6b7a2a11","amount":1100}`, nil},
		{"bid without amount", `{"type":"place_bid","auction_id":"5f1f7bd2-2d7b-4d51-9d38-0f7c6b7a2a11"}`, shared.ErrInvalidAmount},
		{"bid with negative amount", `{"type":"place_bid","auction_id":"5f1f7bd2-2d7b-4d51-9d38-0f7c6b7a2a11","amount":"-5"}`, shared.ErrInvalidAmount},
		{"subscribe without auction", `{"type":"subscribe"}`, shared.ErrAuctionIDRequired},
		{"nil auction id", `{"type":"get_auction","auction_id":"00000000-0000-0000-0000-000000000000"}`, shared.ErrAuctionIDRequired},
		{"unknown type", `{"type":"create_auction"}`, shared.ErrUnknownMessageType},
		{"missing type", `{"auction_id":"5f1f7bd2-2d7b-4d51-9d38-0f7c6b7a2a11"}`, shared.ErrMessageTypeRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tt.raw))
			if err == nil {
				err = msg.Validate()
			}
			if tt.wantErr == nil {
				check.NoError(t, err)
				return
			}
			check.True(t, errors.Is(err, tt.wantErr))
			check.True(t, shared.IsValidation(err))
		})
	}
}

func TestParseClientMessage_KeepsDecimalPrecision(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"place_bid","auction_id":"5f1f7bd2-2d7b-4d51-9d38-0f7c6b7a2a11","amount":"1100.10"}`))
	assert.NoError(t, err)
	check.Equal(t, "1100.1", msg.Amount.Decimal.String())
}

func TestNewErrorMessage_Codes(t *testing.T) {
	check.Equal(t, "validation", NewErrorMessage(shared.ErrBidBelowMinimum, nil).Code)
	check.Equal(t, "state_conflict", NewErrorMessage(shared.ErrBidConflict, nil).Code)
	check.Equal(t, "internal", NewErrorMessage(errors.New("boom"), nil).Code)
}
