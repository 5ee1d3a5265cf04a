package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/northbeam/binarb/internal/crypto"
	"github.com/northbeam/binarb/internal/domain"
)

// Signer abstracts EIP-712 order signing so the service layer never depends
// on concrete key-management implementations.
type Signer interface {
	SignOrder(payload crypto.OrderPayload) (string, error)
	Address() common.Address
}

// ClobPoster submits signed orders to the venue CLOB API.
type ClobPoster interface {
	PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// OrderService is the domain.VenueSubmitter implementation used by the C7
// execution engine: it signs, persists, and (optionally) posts each leg
// order to the venue, then audit-logs the outcome. Outside the dry-run
// path it is the only component allowed to touch real money.
type OrderService struct {
	orders     domain.OrderStore
	audit      domain.AuditStore
	signer     Signer
	clobClient ClobPoster
	logger     *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	orders domain.OrderStore,
	audit domain.AuditStore,
	signer Signer,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders: orders,
		audit:  audit,
		signer: signer,
		logger: logger.With(slog.String("component", "order_service")),
	}
}

// WithClobClient attaches a CLOB poster so Submit forwards orders to the
// exchange after persisting locally. Without one, Submit works in
// local-only mode (paper trading / dry run).
func (s *OrderService) WithClobClient(poster ClobPoster) *OrderService {
	s.clobClient = poster
	return s
}

// Submit implements domain.VenueSubmitter: it signs req, persists the order,
// and posts it to the venue if a CLOB client is configured.
func (s *OrderService) Submit(ctx context.Context, req domain.OrderRequest) (domain.VenueAck, error) {
	wallet := s.signer.Address().Hex()

	order := domain.Order{
		ID:         req.ClientID,
		MarketID:   req.MarketID,
		TokenID:    req.Token,
		Wallet:     wallet,
		Side:       req.Side,
		Type:       domain.OrderType(req.TIF),
		PriceTicks: req.PriceTick,
		SizeUnits:  req.SizeTick,
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	sideInt := 0
	if req.Side == domain.OrderSideSell {
		sideInt = 1
	}
	payload := crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", time.Now().UnixNano()),
		Maker:         wallet,
		Signer:        wallet,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       req.Token,
		MakerAmount:   fmt.Sprintf("%d", req.PriceTick),
		TakerAmount:   fmt.Sprintf("%d", req.SizeTick),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideInt,
		SignatureType: 0,
	}
	signature, err := s.signer.SignOrder(payload)
	if err != nil {
		return domain.VenueAck{}, fmt.Errorf("order_service: sign order: %w", err)
	}
	order.Signature = signature

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return domain.VenueAck{}, fmt.Errorf("order_service: create order: %w", err)
	}

	ack := domain.VenueAck{OrderID: order.ID, Status: string(domain.OrderStatusPending)}
	if s.clobClient != nil {
		result, clobErr := s.clobClient.PostOrder(ctx, order)
		if clobErr != nil {
			_ = s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusFailed)
			s.logAudit(ctx, "order_submit_failed", order, clobErr.Error())
			return domain.VenueAck{}, fmt.Errorf("order_service: clob post order: %w", clobErr)
		}
		if result.Status != "" {
			_ = s.orders.UpdateStatus(ctx, order.ID, result.Status)
			ack.Status = string(result.Status)
		}
		if result.OrderID != "" {
			ack.OrderID = result.OrderID
		}
	}

	s.logAudit(ctx, "order_submitted", order, "")
	s.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", ack.OrderID),
		slog.String("token", req.Token),
		slog.String("side", string(req.Side)),
		slog.String("status", ack.Status),
	)
	return ack, nil
}

// Cancel implements domain.VenueSubmitter.
func (s *OrderService) Cancel(ctx context.Context, orderID string) error {
	if s.clobClient != nil {
		if err := s.clobClient.CancelOrder(ctx, orderID); err != nil {
			return fmt.Errorf("order_service: clob cancel order %q: %w", orderID, err)
		}
	}
	if err := s.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled); err != nil {
		return fmt.Errorf("order_service: cancel order %q: %w", orderID, err)
	}
	if auditErr := s.audit.Log(ctx, "order_cancelled", map[string]any{"order_id": orderID}); auditErr != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("order_id", orderID), slog.String("error", auditErr.Error()))
	}
	s.logger.InfoContext(ctx, "order cancelled", slog.String("order_id", orderID))
	return nil
}

// CancelOrder is the handler.OrderService-facing name for Cancel.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) error {
	return s.Cancel(ctx, orderID)
}

func (s *OrderService) logAudit(ctx context.Context, event string, order domain.Order, detail string) {
	fields := map[string]any{
		"order_id": order.ID,
		"token":    order.TokenID,
		"side":     string(order.Side),
		"price":    order.Price(),
		"size":     order.Size(),
	}
	if detail != "" {
		fields["detail"] = detail
	}
	if err := s.audit.Log(ctx, event, fields); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("order_id", order.ID), slog.String("error", err.Error()))
	}
}

// GetOrder retrieves a single order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order %q: %w", id, err)
	}
	return order, nil
}

// ListOpen returns all open orders for the given wallet address.
func (s *OrderService) ListOpen(ctx context.Context, wallet string) ([]domain.Order, error) {
	orders, err := s.orders.ListOpen(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("order_service: list open for %q: %w", wallet, err)
	}
	return orders, nil
}

// ListByMarket returns orders for a specific market with pagination.
func (s *OrderService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.orders.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by market %q: %w", marketID, err)
	}
	return orders, nil
}

var _ domain.VenueSubmitter = (*OrderService)(nil)
