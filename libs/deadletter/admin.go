package deadletter

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/libs/outbox"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const adminServiceName = "schoolsync.deadletter.v1.DeadLetterAdmin"

// AdminService is the gRPC surface of the dead-letter store. Requests and
// responses are well-known protobuf types so no generated stubs are needed.
//
//	List(Struct{consumer, tenant_id, after_id, limit, include_replayed}) -> Struct{entries: [...]}
//	Replay(Struct{id}) -> Empty
//	ListParked(Struct{after_id, limit}) -> Struct{records: [...]}
//	Requeue(Struct{id}) -> Struct{requeued}
//
// ListParked and Requeue cover outbox rows the relay gave up on; id 0
// requeues all of them.
type AdminService interface {
	List(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Replay(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	ListParked(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Requeue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// AdminServer serves AdminService over a Store. Replay sends the stored bytes
// back to the original topic, so every consumer group on that topic sees the
// event again and relies on its inbox to skip it.
type AdminServer struct {
	store     Store
	transport eventbus.Transport
	parked    outbox.Parked
	logger    *slog.Logger
	now       func() time.Time
}

func NewAdminServer(store Store, transport eventbus.Transport, logger *slog.Logger) *AdminServer {
	return &AdminServer{store: store, transport: transport, logger: logger, now: time.Now}
}

// WithOutbox exposes the service's parked outbox rows.
func (a *AdminServer) WithOutbox(p outbox.Parked) *AdminServer {
	a.parked = p
	return a
}

func RegisterAdmin(s grpc.ServiceRegistrar, srv AdminService) {
	s.RegisterService(&adminServiceDesc, srv)
}

func (a *AdminServer) List(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := Filter{
		Consumer:        stringField(req, "consumer"),
		TenantID:        stringField(req, "tenant_id"),
		AfterID:         int64(numberField(req, "after_id")),
		Limit:           int(numberField(req, "limit")),
		IncludeReplayed: boolField(req, "include_replayed"),
	}
	entries, err := a.store.List(ctx, f)
	if err != nil {
		a.logger.Error("dead letter list failed", "err", err)
		return nil, status.Error(codes.Internal, "list failed")
	}
	items := make([]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryToMap(e))
	}
	out, err := structpb.NewStruct(map[string]any{"entries": items})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (a *AdminServer) Replay(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id := int64(numberField(req, "id"))
	if id <= 0 {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	e, err := a.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "dead letter %d not found", id)
	}
	if err != nil {
		a.logger.Error("dead letter get failed", "err", err, "id", id)
		return nil, status.Error(codes.Internal, "lookup failed")
	}
	if e.ReplayedAt != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "dead letter %d already replayed", id)
	}

	msg := eventbus.Message{Topic: e.Topic, Key: e.Key, Value: e.Payload, Headers: e.Headers}
	if err := a.transport.Send(ctx, msg); err != nil {
		a.logger.Error("dead letter replay failed", "err", err, "id", id, "topic", e.Topic)
		return nil, status.Error(codes.Unavailable, "broker unavailable")
	}
	if err := a.store.MarkReplayed(ctx, id, a.now().UTC()); err != nil {
		a.logger.Error("dead letter mark replayed failed", "err", err, "id", id)
		return nil, status.Error(codes.Internal, "replayed but not marked")
	}
	a.logger.Info("dead letter replayed", "id", id, "event_id", e.EventID, "topic", e.Topic, "consumer", e.Consumer)
	return &emptypb.Empty{}, nil
}

func (a *AdminServer) ListParked(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if a.parked == nil {
		return nil, status.Error(codes.Unimplemented, "no outbox on this service")
	}
	recs, err := a.parked.ListFailed(ctx, int64(numberField(req, "after_id")), int(numberField(req, "limit")))
	if err != nil {
		a.logger.Error("parked outbox list failed", "err", err)
		return nil, status.Error(codes.Internal, "list failed")
	}
	items := make([]any, 0, len(recs))
	for _, r := range recs {
		items = append(items, map[string]any{
			"id":         float64(r.ID),
			"event_id":   r.EventID,
			"event_type": r.EventType,
			"tenant_id":  r.TenantID,
			"topic":      r.Topic,
			"attempts":   float64(r.Attempts),
			"error":      r.LastError,
			"created_at": r.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	out, err := structpb.NewStruct(map[string]any{"records": items})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (a *AdminServer) Requeue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if a.parked == nil {
		return nil, status.Error(codes.Unimplemented, "no outbox on this service")
	}
	id := int64(numberField(req, "id"))
	if id < 0 {
		return nil, status.Error(codes.InvalidArgument, "id must not be negative")
	}
	n, err := a.parked.Requeue(ctx, id)
	if errors.Is(err, outbox.ErrRecordNotFound) {
		return nil, status.Errorf(codes.NotFound, "parked outbox row %d not found", id)
	}
	if err != nil {
		a.logger.Error("outbox requeue failed", "err", err, "id", id)
		return nil, status.Error(codes.Internal, "requeue failed")
	}
	a.logger.Info("parked outbox rows requeued", "id", id, "rows", n)
	return structpb.NewStruct(map[string]any{"requeued": float64(n)})
}

func entryToMap(e Entry) map[string]any {
	m := map[string]any{
		"id":         float64(e.ID),
		"event_id":   e.EventID,
		"event_type": e.EventType,
		"tenant_id":  e.TenantID,
		"topic":      e.Topic,
		"consumer":   e.Consumer,
		"subscriber": e.Subscriber,
		"reason":     e.Reason,
		"error":      e.Error,
		"attempts":   float64(e.Attempts),
		"key":        string(e.Key),
		"payload":    string(e.Payload),
		"failed_at":  e.FailedAt.UTC().Format(time.RFC3339Nano),
	}
	// proto3 strings must be UTF-8; undecodable payloads travel as base64.
	if !utf8.Valid(e.Key) || !utf8.Valid(e.Payload) {
		m["encoding"] = "base64"
		m["key"] = base64.StdEncoding.EncodeToString(e.Key)
		m["payload"] = base64.StdEncoding.EncodeToString(e.Payload)
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func entryFromStruct(s *structpb.Struct) Entry {
	e := Entry{
		ID: int64(numberField(s, "id")),
		DeadLetter: eventbus.DeadLetter{
			EventID:    stringField(s, "event_id"),
			EventType:  stringField(s, "event_type"),
			TenantID:   stringField(s, "tenant_id"),
			Topic:      stringField(s, "topic"),
			Consumer:   stringField(s, "consumer"),
			Subscriber: stringField(s, "subscriber"),
			Reason:     stringField(s, "reason"),
			Error:      stringField(s, "error"),
			Attempts:   int(numberField(s, "attempts")),
			Key:        []byte(stringField(s, "key")),
			Payload:    []byte(stringField(s, "payload")),
		},
	}
	if stringField(s, "encoding") == "base64" {
		e.Key, _ = base64.StdEncoding.DecodeString(stringField(s, "key"))
		e.Payload, _ = base64.StdEncoding.DecodeString(stringField(s, "payload"))
	}
	e.FailedAt, _ = time.Parse(time.RFC3339Nano, stringField(s, "failed_at"))
	if raw := stringField(s, "replayed_at"); raw != "" {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			e.ReplayedAt = &at
		}
	}
	return e
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func numberField(s *structpb.Struct, name string) float64 {
	return s.GetFields()[name].GetNumberValue()
}

func boolField(s *structpb.Struct, name string) bool {
	return s.GetFields()[name].GetBoolValue()
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*AdminService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "List", Handler: adminListHandler},
		{MethodName: "Replay", Handler: adminReplayHandler},
		{MethodName: "ListParked", Handler: adminListParkedHandler},
		{MethodName: "Requeue", Handler: adminRequeueHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "schoolsync/deadletter/v1/admin.proto",
}

func adminListHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminService).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + adminServiceName + "/List"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminService).List(ctx, req.(*structpb.Struct))
	})
}

func adminReplayHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminService).Replay(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + adminServiceName + "/Replay"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminService).Replay(ctx, req.(*structpb.Struct))
	})
}

func adminListParkedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminService).ListParked(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + adminServiceName + "/ListParked"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminService).ListParked(ctx, req.(*structpb.Struct))
	})
}

func adminRequeueHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminService).Requeue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + adminServiceName + "/Requeue"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminService).Requeue(ctx, req.(*structpb.Struct))
	})
}

// AdminClient calls a remote AdminService.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

func (c *AdminClient) List(ctx context.Context, f Filter) ([]Entry, error) {
	in, err := structpb.NewStruct(map[string]any{
		"consumer":         f.Consumer,
		"tenant_id":        f.TenantID,
		"after_id":         float64(f.AfterID),
		"limit":            float64(f.Limit),
		"include_replayed": f.IncludeReplayed,
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+adminServiceName+"/List", in, out); err != nil {
		return nil, err
	}
	values := out.GetFields()["entries"].GetListValue().GetValues()
	entries := make([]Entry, 0, len(values))
	for _, v := range values {
		entries = append(entries, entryFromStruct(v.GetStructValue()))
	}
	return entries, nil
}

func (c *AdminClient) Replay(ctx context.Context, id int64) error {
	in, err := structpb.NewStruct(map[string]any{"id": float64(id)})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, "/"+adminServiceName+"/Replay", in, new(emptypb.Empty))
}

// ListParked returns parked outbox rows. Payloads are not included.
func (c *AdminClient) ListParked(ctx context.Context, afterID int64, limit int) ([]outbox.Record, error) {
	in, err := structpb.NewStruct(map[string]any{"after_id": float64(afterID), "limit": float64(limit)})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+adminServiceName+"/ListParked", in, out); err != nil {
		return nil, err
	}
	values := out.GetFields()["records"].GetListValue().GetValues()
	recs := make([]outbox.Record, 0, len(values))
	for _, v := range values {
		s := v.GetStructValue()
		rec := outbox.Record{
			ID:        int64(numberField(s, "id")),
			EventID:   stringField(s, "event_id"),
			EventType: stringField(s, "event_type"),
			TenantID:  stringField(s, "tenant_id"),
			Topic:     stringField(s, "topic"),
			Status:    outbox.StatusFailed,
			Attempts:  int(numberField(s, "attempts")),
			LastError: stringField(s, "error"),
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, stringField(s, "created_at"))
		recs = append(recs, rec)
	}
	return recs, nil
}

// Requeue sends parked row id back to the relay, or every parked row when
// id is 0, and returns how many rows moved.
func (c *AdminClient) Requeue(ctx context.Context, id int64) (int64, error) {
	in, err := structpb.NewStruct(map[string]any{"id": float64(id)})
	if err != nil {
		return 0, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+adminServiceName+"/Requeue", in, out); err != nil {
		return 0, err
	}
	return int64(numberField(out, "requeued")), nil
}

var _ AdminService = (*AdminServer)(nil)
