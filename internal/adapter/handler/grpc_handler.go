package handler

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logging"
)

const storefrontServiceName = "storefront.v1.Storefront"

type ListProductsRequest struct{}

type ListProductsResponse struct {
	Products []domain.Product `json:"products"`
}

type CreateCheckoutSessionRequest struct {
	Items []domain.CartItem `json:"items"`
}

type CreateCheckoutSessionResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	URL       string `json:"url,omitempty"`
}

type SettlePurchaseRequest struct {
	SessionID string            `json:"session_id"`
	Items     []domain.CartItem `json:"items"`
}

type SettlePurchaseResponse struct {
	Success        bool                `json:"success"`
	Message        string              `json:"message"`
	Code           string              `json:"code,omitempty"`
	SettlementID   string              `json:"settlement_id,omitempty"`
	AlreadySettled bool                `json:"already_settled"`
	Levels         []domain.StockLevel `json:"levels,omitempty"`
}

// StorefrontServer is the gRPC mirror of the HTTP routes.
type StorefrontServer interface {
	ListProducts(ctx context.Context, req *ListProductsRequest) (*ListProductsResponse, error)
	CreateCheckoutSession(ctx context.Context, req *CreateCheckoutSessionRequest) (*CreateCheckoutSessionResponse, error)
	SettlePurchase(ctx context.Context, req *SettlePurchaseRequest) (*SettlePurchaseResponse, error)
}

type GRPCHandler struct {
	products   ProductLister
	checkout   *service.CheckoutService
	settlement *service.SettlementService
	urls       domain.CheckoutURLs
}

func NewGRPCHandler(products ProductLister, checkout *service.CheckoutService, settlement *service.SettlementService, urls domain.CheckoutURLs) *GRPCHandler {
	return &GRPCHandler{
		products:   products,
		checkout:   checkout,
		settlement: settlement,
		urls:       urls,
	}
}

func (h *GRPCHandler) ListProducts(ctx context.Context, req *ListProductsRequest) (*ListProductsResponse, error) {
	products, err := h.products.ListProducts(ctx)
	if err != nil {
		logging.FromContext(ctx).Error("list_products_failed", zap.Error(err))
		return nil, status.Error(codes.Unavailable, "catalog store unavailable")
	}
	return &ListProductsResponse{Products: products}, nil
}

func (h *GRPCHandler) CreateCheckoutSession(ctx context.Context, req *CreateCheckoutSessionRequest) (*CreateCheckoutSessionResponse, error) {
	session, err := h.checkout.CreateCheckout(ctx, req.Items, h.urls)
	if err != nil {
		return &CreateCheckoutSessionResponse{
			Success: false,
			Message: publicMessage(err),
			Code:    errorCode(err),
		}, nil
	}

	return &CreateCheckoutSessionResponse{
		Success:   true,
		Message:   "checkout session created",
		SessionID: session.SessionID,
		URL:       session.RedirectURL,
	}, nil
}

func (h *GRPCHandler) SettlePurchase(ctx context.Context, req *SettlePurchaseRequest) (*SettlePurchaseResponse, error) {
	result, err := h.settlement.Settle(ctx, req.SessionID, req.Items)
	if err != nil {
		return &SettlePurchaseResponse{
			Success: false,
			Message: publicMessage(err),
			Code:    errorCode(err),
		}, nil
	}

	message := "purchase settled"
	if result.AlreadySettled {
		message = "purchase already settled"
	}
	return &SettlePurchaseResponse{
		Success:        true,
		Message:        message,
		SettlementID:   result.SettlementID,
		AlreadySettled: result.AlreadySettled,
		Levels:         result.Levels,
	}, nil
}

// RegisterStorefrontServer registers srv on s under storefront.v1.Storefront.
func RegisterStorefrontServer(s grpc.ServiceRegistrar, srv StorefrontServer) {
	s.RegisterService(&storefrontServiceDesc, srv)
}

var storefrontServiceDesc = grpc.ServiceDesc{
	ServiceName: storefrontServiceName,
	HandlerType: (*StorefrontServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListProducts", Handler: listProductsHandler},
		{MethodName: "CreateCheckoutSession", Handler: createCheckoutSessionHandler},
		{MethodName: "SettlePurchase", Handler: settlePurchaseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/storefront.proto",
}

func listProductsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListProductsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServer).ListProducts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + storefrontServiceName + "/ListProducts"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServer).ListProducts(ctx, req.(*ListProductsRequest))
	})
}

func createCheckoutSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateCheckoutSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServer).CreateCheckoutSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + storefrontServiceName + "/CreateCheckoutSession"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServer).CreateCheckoutSession(ctx, req.(*CreateCheckoutSessionRequest))
	})
}

func settlePurchaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SettlePurchaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StorefrontServer).SettlePurchase(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + storefrontServiceName + "/SettlePurchase"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(StorefrontServer).SettlePurchase(ctx, req.(*SettlePurchaseRequest))
	})
}

// UnaryLogger gives each call a request-scoped logger, reusing an incoming
// x-request-id when the client sent one.
func UnaryLogger(base *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("x-request-id"); len(vals) > 0 {
				requestID = vals[0]
			}
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}

		logger := base.With(zap.String("request_id", requestID), zap.String("grpc_method", info.FullMethod))
		resp, err := handler(logging.ContextWithLogger(ctx, logger), req)
		logger.Info("grpc_request", zap.String("code", status.Code(err).String()))
		return resp, err
	}
}

// StorefrontClient calls a storefront gRPC server using the JSON codec.
type StorefrontClient struct {
	cc grpc.ClientConnInterface
}

func NewStorefrontClient(cc grpc.ClientConnInterface) *StorefrontClient {
	return &StorefrontClient{cc: cc}
}

func (c *StorefrontClient) ListProducts(ctx context.Context, req *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsResponse, error) {
	out := new(ListProductsResponse)
	if err := c.invoke(ctx, "ListProducts", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorefrontClient) CreateCheckoutSession(ctx context.Context, req *CreateCheckoutSessionRequest, opts ...grpc.CallOption) (*CreateCheckoutSessionResponse, error) {
	out := new(CreateCheckoutSessionResponse)
	if err := c.invoke(ctx, "CreateCheckoutSession", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorefrontClient) SettlePurchase(ctx context.Context, req *SettlePurchaseRequest, opts ...grpc.CallOption) (*SettlePurchaseResponse, error) {
	out := new(SettlePurchaseResponse)
	if err := c.invoke(ctx, "SettlePurchase", req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorefrontClient) invoke(ctx context.Context, method string, req, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+storefrontServiceName+"/"+method, req, out, opts...)
}
