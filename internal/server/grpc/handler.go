package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/scanrebate/internal/adminapi"
	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors onto gRPC codes. Unexpected errors are logged
// and hidden behind a generic message.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrInvalidTransition), errors.Is(err, common.ErrVersionConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	}
	s.logger.Error(ctx, "admin call failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return status.Error(codes.InvalidArgument, "id is required")
	}
	return nil
}

func (s *GRPCServer) Login(ctx context.Context, req *adminapi.LoginRequest) (*adminapi.LoginResponse, error) {

	password := []byte(req.Password)
	defer common.WipeByteArray(password)

	token, err := s.operators.Login(ctx, req.Username, password)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "operator logged in", "operator", req.Username)
	return &adminapi.LoginResponse{AccessToken: token}, nil
}

func (s *GRPCServer) ListReceipts(ctx context.Context, req *adminapi.ListReceiptsRequest) (*adminapi.ListReceiptsResponse, error) {

	var st models.ReceiptStatus
	if req.Status != "" {
		parsed, err := models.ParseReceiptStatus(req.Status)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		st = parsed
	}

	list, err := s.operators.ListReceipts(ctx, st, req.Limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &adminapi.ListReceiptsResponse{Receipts: make([]adminapi.Receipt, 0, len(list))}
	for _, rec := range list {
		resp.Receipts = append(resp.Receipts, toReceipt(rec))
	}
	return resp, nil
}

func (s *GRPCServer) GetReceipt(ctx context.Context, req *adminapi.GetReceiptRequest) (*adminapi.GetReceiptResponse, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}

	view, err := s.operators.GetReceipt(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &adminapi.GetReceiptResponse{
		Receipt:         toReceipt(view.Receipt),
		ReceiptImageURL: view.ReceiptImageURL,
		ScanImageURL:    view.ScanImageURL,
	}
	if view.Scan != nil {
		resp.Scan = toScan(view.Scan)
	}
	return resp, nil
}

func (s *GRPCServer) ApproveReceipt(ctx context.Context, req *adminapi.ApproveReceiptRequest) (*adminapi.ReviewResponse, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}

	res, err := s.review.Approve(ctx, req.ID, operatorFromContext(ctx))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &adminapi.ReviewResponse{Receipt: toReceipt(res.Receipt)}
	if res.Payout != nil {
		out := toOutcome(res.Payout)
		resp.Payout = &out
	}
	return resp, nil
}

func (s *GRPCServer) RejectReceipt(ctx context.Context, req *adminapi.RejectReceiptRequest) (*adminapi.ReviewResponse, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, status.Error(codes.InvalidArgument, "reason is required")
	}

	rec, err := s.review.Reject(ctx, req.ID, operatorFromContext(ctx), req.Reason)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	return &adminapi.ReviewResponse{Receipt: toReceipt(rec)}, nil
}

func (s *GRPCServer) ResolvePayout(ctx context.Context, req *adminapi.ResolvePayoutRequest) (*adminapi.PayoutResponse, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}

	outcome, err := s.payout.ResolveUnknown(ctx, req.ID, operatorFromContext(ctx))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	return &adminapi.PayoutResponse{Payout: toOutcome(outcome)}, nil
}

func (s *GRPCServer) RejectScan(ctx context.Context, req *adminapi.RejectScanRequest) (*adminapi.RejectScanResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}

	if err := s.operators.RejectScan(ctx, req.SessionID, operatorFromContext(ctx)); err != nil {
		return nil, s.toStatus(ctx, err)
	}

	return &adminapi.RejectScanResponse{}, nil
}
