package grpcsvc

import (
	"context"
	"errors"
	"strings"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/service/idempotency"
)

const idempotencyKeyHeader = "idempotency-key"

// idempotent выполняет handler под ключом из метаданных idempotency-key.
// Успешный ответ и итоговый статус ошибки сохраняются и отдаются при повторе.
func (s *CheckoutService) idempotent(
	ctx context.Context,
	method string,
	req *structpb.Struct,
	handler func(context.Context) (*structpb.Struct, error),
) (*structpb.Struct, error) {
	if !s.idem.Enabled() {
		return handler(ctx)
	}

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	var fresh *structpb.Struct
	resp, replayed, err := s.idem.Run(ctx, method, readIdempotencyKey(ctx), reqHash, func(ctx context.Context) (idempotency.Response, error) {
		out, runErr := handler(ctx)
		if runErr != nil {
			return failureResponse(runErr), runErr
		}
		fresh = out
		body, mErr := protojson.Marshal(out)
		if mErr != nil {
			s.logger.WithError(mErr).WithField("method", method).Warn("failed to encode idempotent response")
		}
		return idempotency.Response{Status: int(codes.OK), Body: body}, nil
	})

	switch {
	case err == nil && !replayed:
		return fresh, nil
	case err == nil:
		cached := &structpb.Struct{}
		if uErr := protojson.Unmarshal(resp.Body, cached); uErr != nil {
			s.logger.WithError(uErr).WithField("method", method).Warn("failed to decode cached idempotency response")
			return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
		}
		return cached, nil
	case errors.Is(err, idempotency.ErrPreviousFailure):
		return nil, decodeIdempotencyFailure(resp)
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return nil, status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, idempotency.ErrRequestInProgress):
		return nil, status.Error(codes.Aborted, err.Error())
	}
	if _, ok := status.FromError(err); ok {
		return nil, err
	}
	s.logger.WithError(err).WithField("method", method).Warn("idempotency storage failure")
	return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
}

// failureResponse сохраняет статус целиком, вместе с деталями.
func failureResponse(err error) idempotency.Response {
	st := status.Convert(err)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}
	body, mErr := protojson.Marshal(st.Proto())
	if mErr != nil {
		body = nil
	}
	return idempotency.Response{Status: int(code), Body: body}
}

func decodeIdempotencyFailure(resp idempotency.Response) error {
	if len(resp.Body) > 0 {
		var cached spb.Status
		if err := protojson.Unmarshal(resp.Body, &cached); err == nil && cached.GetCode() != int32(codes.OK) {
			return status.ErrorProto(&cached)
		}
	}
	if code, ok := grpcCodeFromInt(resp.Status); ok && code != codes.OK {
		return status.Error(code, idempotency.ErrPreviousFailure.Error())
	}
	return status.Error(codes.Internal, idempotency.ErrPreviousFailure.Error())
}

func grpcCodeFromInt(value int) (codes.Code, bool) {
	if value < int(codes.OK) || value > int(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0])
		}
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func buildIdempotencyRequestHash(method string, req proto.Message) (string, error) {
	if req == nil {
		return "", errors.New("request is nil")
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}
	return idempotency.RequestHash(method, data), nil
}
