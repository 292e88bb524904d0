package api

import (
	"context"
	"strings"

	"salonbook/internal/models"
	"salonbook/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const availabilityServiceName = "salonbook.availability.v1.AvailabilityService"

const (
	methodGetAvailableSlots = "/" + availabilityServiceName + "/GetAvailableSlots"
	methodListServices      = "/" + availabilityServiceName + "/ListServices"
	methodListStylists      = "/" + availabilityServiceName + "/ListStylists"
)

// AvailabilityServer is the read-only gRPC surface for partner systems.
// Requests and responses are google.protobuf.Struct documents.
type AvailabilityServer interface {
	GetAvailableSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListServices(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListStylists(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func RegisterAvailabilityServer(s grpc.ServiceRegistrar, srv AvailabilityServer) {
	s.RegisterService(&availabilityServiceDesc, srv)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*AvailabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetAvailableSlots",
			Handler: unaryHandler(methodGetAvailableSlots, func(srv AvailabilityServer) structMethod {
				return srv.GetAvailableSlots
			}),
		},
		{
			MethodName: "ListServices",
			Handler: unaryHandler(methodListServices, func(srv AvailabilityServer) structMethod {
				return srv.ListServices
			}),
		},
		{
			MethodName: "ListStylists",
			Handler: unaryHandler(methodListStylists, func(srv AvailabilityServer) structMethod {
				return srv.ListStylists
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "salonbook/availability/v1/availability.proto",
}

type structMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, pick func(AvailabilityServer) structMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := pick(srv.(AvailabilityServer))
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type AvailabilityService struct {
	stylists *service.StylistService
	catalog  *service.CatalogService
}

var _ AvailabilityServer = (*AvailabilityService)(nil)

func NewAvailabilityService(stylists *service.StylistService, catalog *service.CatalogService) *AvailabilityService {
	return &AvailabilityService{stylists: stylists, catalog: catalog}
}

func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	stylistID := stringField(req, "stylist_id")
	if stylistID == "" {
		return nil, status.Error(codes.InvalidArgument, "stylist_id is required")
	}
	date := stringField(req, "date")
	if date == "" {
		return nil, status.Error(codes.InvalidArgument, "date is required")
	}

	slots, err := s.stylists.AvailableSlots(ctx, stylistID, stringField(req, "service_id"), date)
	if err != nil {
		return nil, err
	}

	return structpb.NewStruct(map[string]any{
		"stylist_id": stylistID,
		"date":       date,
		"slots":      stringList(slots),
	})
}

func (s *AvailabilityService) ListServices(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	services, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(services))
	for _, svc := range services {
		out = append(out, map[string]any{
			"id":               svc.ID,
			"name":             svc.Name,
			"category":         svc.Category,
			"duration_minutes": svc.DurationMinutes,
			"price":            svc.Price,
		})
	}
	return structpb.NewStruct(map[string]any{"services": out})
}

func (s *AvailabilityService) ListStylists(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var (
		stylists []*models.User
		err      error
	)
	if serviceID := stringField(req, "service_id"); serviceID != "" {
		stylists, err = s.stylists.ByService(ctx, serviceID)
	} else {
		stylists, err = s.stylists.List(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(stylists))
	for _, st := range stylists {
		out = append(out, map[string]any{
			"id":          st.ID,
			"name":        st.Name,
			"work_start":  st.WorkStart,
			"work_end":    st.WorkEnd,
			"off_days":    stringList(st.OffDays),
			"service_ids": stringList(st.ServiceIDs),
		})
	}
	return structpb.NewStruct(map[string]any{"stylists": out})
}

func stringField(req *structpb.Struct, name string) string {
	return strings.TrimSpace(req.GetFields()[name].GetStringValue())
}

func stringList(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
