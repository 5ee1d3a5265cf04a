package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/northbeam/binarb/internal/crypto"
	"github.com/northbeam/binarb/internal/domain"
)

// userSubscribeCommand authenticates and subscribes to the CLOB "user"
// channel, which streams order and trade updates for the credentialed
// account. Unlike the public market channel, this one requires the
// Builder API key triple in the subscribe payload.
type userSubscribeCommand struct {
	Type       string `json:"type"`
	Channel    string `json:"channel"`
	APIKey     string `json:"auth_apikey"`
	Secret     string `json:"auth_secret"`
	Passphrase string `json:"auth_passphrase"`
}

// userOrderMessage is a single order-status update on the "user" channel.
type userOrderMessage struct {
	EventType   string `json:"event_type"`
	OrderID     string `json:"id"`
	Status      string `json:"status"`
	SizeMatched string `json:"size_matched"`
	Price       string `json:"price"`
	OriginalSz  string `json:"original_size"`
}

// UserChannelClient streams order-fill events from the Polymarket CLOB
// "user" WebSocket channel for a credentialed account, and implements
// domain.FillSubscriber for the execution engine's non-dry-run
// fill-tracking path. Push (book) and fill tracking are two independent
// WebSocket connections against the same CLOB endpoint, mirroring how
// WSClient only ever speaks the public market channel.
type UserChannelClient struct {
	wsURL string
	hmac  *crypto.HMACAuth
}

// NewUserChannelClient creates a fill subscriber authenticated with hmac's
// Builder API credentials.
func NewUserChannelClient(wsURL string, hmac *crypto.HMACAuth) *UserChannelClient {
	return &UserChannelClient{wsURL: wsURL, hmac: hmac}
}

// Subscribe dials the user channel, authenticates, and streams every order
// update as a domain.FillEvent until ctx is cancelled. The returned channel
// is closed on disconnect; callers that need to survive a drop should call
// Subscribe again.
func (u *UserChannelClient) Subscribe(ctx context.Context) (<-chan domain.FillEvent, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/fills: connect: %w", err)
	}

	sub := userSubscribeCommand{
		Type:       "subscribe",
		Channel:    "user",
		APIKey:     u.hmac.Key,
		Secret:     u.hmac.Secret,
		Passphrase: u.hmac.Passphrase,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("polymarket/fills: subscribe: %w", err)
	}

	ch := make(chan domain.FillEvent, 64)
	go u.readLoop(ctx, conn, ch)
	return ch, nil
}

func (u *UserChannelClient) readLoop(ctx context.Context, conn *websocket.Conn, ch chan<- domain.FillEvent) {
	defer close(ch)
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg userOrderMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.EventType != "order" {
			continue
		}

		evt, ok := userOrderToFillEvent(&msg)
		if !ok {
			continue
		}

		select {
		case ch <- evt:
		case <-ctx.Done():
			return
		}
	}
}

// userOrderToFillEvent converts a raw user-channel order message into a
// domain.FillEvent, skipping messages whose numeric fields don't parse.
func userOrderToFillEvent(m *userOrderMessage) (domain.FillEvent, bool) {
	priceTick, ok := parseTick(m.Price)
	if !ok {
		return domain.FillEvent{}, false
	}
	matched, err := strconv.ParseFloat(m.SizeMatched, 64)
	if err != nil {
		return domain.FillEvent{}, false
	}
	original, err := strconv.ParseFloat(m.OriginalSz, 64)
	if err != nil {
		return domain.FillEvent{}, false
	}

	filledTick := int64(matched * float64(domain.TicksPerUnit))
	remainTick := int64((original - matched) * float64(domain.TicksPerUnit))
	if remainTick < 0 {
		remainTick = 0
	}

	return domain.FillEvent{
		OrderID:    m.OrderID,
		FilledTick: filledTick,
		PriceTick:  priceTick,
		RemainTick: remainTick,
		Status:     m.Status,
	}, true
}

var _ domain.FillSubscriber = (*UserChannelClient)(nil)
