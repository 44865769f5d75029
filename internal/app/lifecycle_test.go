package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	grpcsvc "github.com/vladislavdragonenkov/hubcart/internal/service/grpc"
)

// OrderLifecycleSuite поднимает сервис целиком и проводит заказ через REST,
// сверяя результат через gRPC.
type OrderLifecycleSuite struct {
	suite.Suite
	cancel  context.CancelFunc
	done    chan error
	baseURL string
	grpc    *grpcsvc.Client
	conn    *grpc.ClientConn
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleSuite))
}

func (s *OrderLifecycleSuite) SetupSuite() {
	t := s.T()
	cfg, grpcPort := memoryRunConfig(t)
	httpPort, err := strconv.Atoi(cfg.HTTPAddr[len("127.0.0.1:"):])
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- Run(ctx, cfg) }()

	waitForServer(t, grpcPort)
	waitForServer(t, httpPort)
	s.baseURL = "http://" + cfg.HTTPAddr + "/api/v1"

	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err)
	s.conn = conn
	s.grpc = grpcsvc.NewClient(conn)
}

func (s *OrderLifecycleSuite) TearDownSuite() {
	_ = s.conn.Close()
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		s.T().Error("service did not stop")
	}
}

func (s *OrderLifecycleSuite) do(method, path, key string, body interface{}) (int, map[string]interface{}) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.baseURL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var out map[string]interface{}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (s *OrderLifecycleSuite) newCart(key string, quantity int) string {
	status, body := s.do(http.MethodPost, "/orders", key, map[string]interface{}{
		"customer_id": "cust-1",
		"hub_id":      "hub-1",
	})
	s.Require().Equal(http.StatusCreated, status, body)
	orderID := body["order"].(map[string]interface{})["id"].(string)

	status, body = s.do(http.MethodPost, "/orders/"+orderID+"/cart", "", map[string]interface{}{
		"lines": []map[string]interface{}{{"variant_id": "var-apples", "quantity": quantity}},
	})
	s.Require().Equal(http.StatusOK, status, body)
	return orderID
}

func (s *OrderLifecycleSuite) TestFullCheckoutWithVoucher() {
	orderID := s.newCart("lc-create-1", 2)

	status, body := s.do(http.MethodPost, "/orders/"+orderID+"/vouchers", "lc-voucher-1", map[string]interface{}{"code": "FIVEOFF"})
	s.Require().Equal(http.StatusOK, status, body)
	s.Require().EqualValues(-500, body["amount_minor"], "discount is reported with the adjustment sign")

	steps := []map[string]interface{}{
		{"target": "address"},
		{"target": "delivery"},
		{"target": "payment", "shipping_method_id": "ship-pickup"},
		{"target": "confirmation", "payment_method_id": "pay-card"},
		{"target": "complete"},
	}
	for _, step := range steps {
		target := step["target"].(string)
		status, body = s.do(http.MethodPost, "/orders/"+orderID+"/checkout", "lc-step-"+target, step)
		s.Require().Equal(http.StatusOK, status, "step %s: %v", target, body)
		s.Require().Equal(target, body["to"])
	}

	resp, err := s.grpc.Call(context.Background(), "GetOrder", mustStruct(s.T(), map[string]interface{}{"order_id": orderID}))
	s.Require().NoError(err)
	order := resp.AsMap()["order"].(map[string]interface{})
	s.Equal("complete", order["state"])

	status, body = s.do(http.MethodGet, "/orders/"+orderID+"/timeline", "", nil)
	s.Require().Equal(http.StatusOK, status)
	s.NotEmpty(body["events"])
}

func (s *OrderLifecycleSuite) TestCancelBeforeComplete() {
	orderID := s.newCart("lc-create-2", 1)

	status, body := s.do(http.MethodPost, "/orders/"+orderID+"/checkout", "lc-cancel-address", map[string]interface{}{"target": "address"})
	s.Require().Equal(http.StatusOK, status, body)

	status, body = s.do(http.MethodPost, "/orders/"+orderID+"/cancel", "lc-cancel-1", map[string]interface{}{"reason": "changed mind"})
	s.Require().Equal(http.StatusOK, status, body)
	s.Equal("canceled", body["order"].(map[string]interface{})["state"])

	status, _ = s.do(http.MethodPost, "/orders/"+orderID+"/cart", "", map[string]interface{}{
		"lines": []map[string]interface{}{{"variant_id": "var-apples", "quantity": 1}},
	})
	s.GreaterOrEqual(status, 400, "canceled order must reject cart changes")
}

func (s *OrderLifecycleSuite) TestOversizedCartIsRejected() {
	status, body := s.do(http.MethodPost, "/orders", "lc-create-3", map[string]interface{}{"customer_id": "cust-1", "hub_id": "hub-1"})
	s.Require().Equal(http.StatusCreated, status)
	orderID := body["order"].(map[string]interface{})["id"].(string)

	status, body = s.do(http.MethodPost, "/orders/"+orderID+"/cart", "", map[string]interface{}{
		"lines": []map[string]interface{}{{"variant_id": "var-apples", "quantity": 500}},
	})
	s.Equal(http.StatusConflict, status, body)
}

func (s *OrderLifecycleSuite) TestUnknownOrderIsProblemJSON() {
	status, body := s.do(http.MethodGet, "/orders/does-not-exist", "", nil)
	s.Equal(http.StatusNotFound, status)
	s.EqualValues(http.StatusNotFound, body["status"])
}

func mustStruct(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	st, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return st
}
