package api

import (
	"context"
	"time"

	"therapycore/internal/models"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
)

const schedulingServiceName = "therapycore.scheduling.v1.SchedulingService"

type BookRequest struct {
	ProviderID      int64           `json:"provider_id"`
	Start           time.Time       `json:"start"`
	DurationMinutes int             `json:"duration_minutes"`
	Price           decimal.Decimal `json:"price"`
	Notes           string          `json:"notes,omitempty"`
}

type AppointmentRequest struct {
	AppointmentID int64 `json:"appointment_id"`
}

type AppointmentResponse struct {
	Appointment *models.Appointment `json:"appointment"`
}

type ProviderRequest struct {
	ProviderID int64 `json:"provider_id"`
}

type ListWindowsResponse struct {
	Windows []models.AvailabilityWindow `json:"windows"`
}

type BalanceResponse struct {
	Balance *models.Balance `json:"balance"`
}

type WithdrawalRequest struct {
	ProviderID int64           `json:"provider_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type LedgerEntryResponse struct {
	Entry *models.LedgerEntry `json:"entry"`
}

type SchedulingServer interface {
	Book(ctx context.Context, req *BookRequest) (*AppointmentResponse, error)
	CancelAppointment(ctx context.Context, req *AppointmentRequest) (*AppointmentResponse, error)
	CompleteAppointment(ctx context.Context, req *AppointmentRequest) (*AppointmentResponse, error)
	ListWindows(ctx context.Context, req *ProviderRequest) (*ListWindowsResponse, error)
	GetBalance(ctx context.Context, req *ProviderRequest) (*BalanceResponse, error)
	RequestWithdrawal(ctx context.Context, req *WithdrawalRequest) (*LedgerEntryResponse, error)
}

func unaryHandler[Req any, Resp any](method string, call func(SchedulingServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + schedulingServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SchedulingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SchedulingServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var schedulingServiceDesc = grpc.ServiceDesc{
	ServiceName: schedulingServiceName,
	HandlerType: (*SchedulingServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Book", SchedulingServer.Book),
		unaryHandler("CancelAppointment", SchedulingServer.CancelAppointment),
		unaryHandler("CompleteAppointment", SchedulingServer.CompleteAppointment),
		unaryHandler("ListWindows", SchedulingServer.ListWindows),
		unaryHandler("GetBalance", SchedulingServer.GetBalance),
		unaryHandler("RequestWithdrawal", SchedulingServer.RequestWithdrawal),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "therapycore/scheduling/v1/scheduling.json",
}

func RegisterSchedulingServer(s grpc.ServiceRegistrar, srv SchedulingServer) {
	s.RegisterService(&schedulingServiceDesc, srv)
}

// SchedulingService serves the gRPC binding on top of Services.
type SchedulingService struct {
	svc *Services
}

func NewSchedulingService(svc *Services) *SchedulingService {
	return &SchedulingService{svc: svc}
}

func (s *SchedulingService) Book(ctx context.Context, req *BookRequest) (*AppointmentResponse, error) {
	caller := CallerFrom(ctx)
	if err := requireUser(caller); err != nil {
		return nil, err
	}
	appt, err := s.svc.Booking.Book(ctx, models.BookingRequest{
		ProviderID:      req.ProviderID,
		ClientID:        caller.UserID,
		Start:           req.Start,
		DurationMinutes: req.DurationMinutes,
		Price:           req.Price,
		Notes:           req.Notes,
	})
	if err != nil {
		return nil, err
	}
	return &AppointmentResponse{Appointment: appt}, nil
}

func (s *SchedulingService) CancelAppointment(ctx context.Context, req *AppointmentRequest) (*AppointmentResponse, error) {
	caller := CallerFrom(ctx)
	if err := requireUser(caller); err != nil && !caller.Admin {
		return nil, err
	}
	appt, err := s.svc.Booking.Cancel(ctx, req.AppointmentID, caller.UserID, caller.Admin)
	if err != nil {
		return nil, err
	}
	return &AppointmentResponse{Appointment: appt}, nil
}

func (s *SchedulingService) CompleteAppointment(ctx context.Context, req *AppointmentRequest) (*AppointmentResponse, error) {
	caller := CallerFrom(ctx)
	current, err := s.svc.Booking.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if err := s.svc.authorizeProvider(ctx, caller, current.ProviderID); err != nil {
		return nil, err
	}
	appt, err := s.svc.Booking.Complete(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	return &AppointmentResponse{Appointment: appt}, nil
}

func (s *SchedulingService) ListWindows(ctx context.Context, req *ProviderRequest) (*ListWindowsResponse, error) {
	windows := []models.AvailabilityWindow{}
	for w, err := range s.svc.Availability.ListWindows(ctx, req.ProviderID) {
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return &ListWindowsResponse{Windows: windows}, nil
}

func (s *SchedulingService) GetBalance(ctx context.Context, req *ProviderRequest) (*BalanceResponse, error) {
	if err := s.svc.authorizeProvider(ctx, CallerFrom(ctx), req.ProviderID); err != nil {
		return nil, err
	}
	b, err := s.svc.Ledger.Balance(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{Balance: b}, nil
}

func (s *SchedulingService) RequestWithdrawal(ctx context.Context, req *WithdrawalRequest) (*LedgerEntryResponse, error) {
	if err := s.svc.authorizeProvider(ctx, CallerFrom(ctx), req.ProviderID); err != nil {
		return nil, err
	}
	entry, err := s.svc.Ledger.RequestWithdrawal(ctx, req.ProviderID, req.Amount)
	if err != nil {
		return nil, err
	}
	return &LedgerEntryResponse{Entry: entry}, nil
}

// SchedulingClient calls SchedulingService over a JSON-coded connection.
type SchedulingClient struct {
	cc grpc.ClientConnInterface
}

func NewSchedulingClient(cc grpc.ClientConnInterface) *SchedulingClient {
	return &SchedulingClient{cc: cc}
}

func (c *SchedulingClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+schedulingServiceName+"/"+method, in, out, opts...)
}

func (c *SchedulingClient) Book(ctx context.Context, in *BookRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	out := new(AppointmentResponse)
	if err := c.invoke(ctx, "Book", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulingClient) CancelAppointment(ctx context.Context, in *AppointmentRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	out := new(AppointmentResponse)
	if err := c.invoke(ctx, "CancelAppointment", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulingClient) CompleteAppointment(ctx context.Context, in *AppointmentRequest, opts ...grpc.CallOption) (*AppointmentResponse, error) {
	out := new(AppointmentResponse)
	if err := c.invoke(ctx, "CompleteAppointment", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulingClient) ListWindows(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*ListWindowsResponse, error) {
	out := new(ListWindowsResponse)
	if err := c.invoke(ctx, "ListWindows", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulingClient) GetBalance(ctx context.Context, in *ProviderRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	if err := c.invoke(ctx, "GetBalance", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SchedulingClient) RequestWithdrawal(ctx context.Context, in *WithdrawalRequest, opts ...grpc.CallOption) (*LedgerEntryResponse, error) {
	out := new(LedgerEntryResponse)
	if err := c.invoke(ctx, "RequestWithdrawal", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
