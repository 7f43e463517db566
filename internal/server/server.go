// Package server implements the gRPC HistoryService and the observability endpoints
package server

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/lexstore/internal/logger"
	"github.com/nainya/lexstore/internal/service"
	"github.com/nainya/lexstore/pkg/history"
	"github.com/nainya/lexstore/pkg/part"
)

// Server implements HistoryServiceServer on top of the application service
type Server struct {
	svc       *service.Service
	log       *logger.Logger
	startTime time.Time
}

var _ HistoryServiceServer = (*Server)(nil)

// NewServer creates a gRPC server instance
func NewServer(svc *service.Service, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{svc: svc, log: log, startTime: time.Now()}
}

// toStatus maps service errors onto gRPC codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch service.Classify(err) {
	case service.ClassNotFound:
		code = codes.NotFound
	case service.ClassConflict:
		code = codes.AlreadyExists
	case service.ClassInvalid:
		code = codes.InvalidArgument
	case service.ClassPrecondition:
		code = codes.FailedPrecondition
	case service.ClassUnavailable:
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

func decode(in *structpb.Struct, v any) error {
	if err := FromStruct(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) doc(req DocRequest) (part.DocID, error) {
	if req.Domain == "" || req.IDLocal == "" {
		return part.DocID{}, status.Error(codes.InvalidArgument, "domain and id_local are required")
	}
	return s.svc.Doc(req.Domain, req.IDLocal), nil
}

func (s *Server) docRequest(in *structpb.Struct) (DocRequest, part.DocID, error) {
	var req DocRequest
	if err := decode(in, &req); err != nil {
		return req, part.DocID{}, err
	}
	doc, err := s.doc(req)
	return req, doc, err
}

// ========== Mutations ==========

func (s *Server) Incorporate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req IncorporateRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Edition == nil || req.Edition.Cover == nil {
		return nil, status.Error(codes.InvalidArgument, "edition with a cover is required")
	}
	domain := req.Domain
	if domain == "" {
		domain = req.Edition.Doc().Domain
	}

	res, err := s.svc.Upload(ctx, domain, req.Edition)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(IncorporateResponse{
		RunID:     res.RunID,
		Domain:    res.Doc.Domain,
		IDLocal:   res.Doc.IDLocal,
		Version:   res.Version,
		New:       res.New,
		Relabeled: res.Relabeled,
		Changed:   res.Changed,
		Obsoleted: res.Obsoleted,
	})
}

func (s *Server) RemoveLatest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, doc, err := s.docRequest(in)
	if err != nil {
		return nil, err
	}
	if req.Version != "" {
		err = s.svc.RemoveVersion(ctx, doc, req.Version)
	} else {
		err = s.svc.RemoveLatest(ctx, doc)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(StatusResponse{Status: "removed"})
}

func (s *Server) Purge(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	_, doc, err := s.docRequest(in)
	if err != nil {
		return nil, err
	}
	existed, err := s.svc.Purge(ctx, doc)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(PurgeResponse{Existed: existed})
}

func (s *Server) InsertUnavailable(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req UnavailableRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	doc, err := s.doc(DocRequest{Domain: req.Domain, IDLocal: req.IDLocal})
	if err != nil {
		return nil, err
	}
	if req.Version == "" {
		return nil, status.Error(codes.InvalidArgument, "version is required")
	}
	date, err := time.Parse(time.DateOnly, req.DateDocument)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "date_document: %v", err)
	}
	if err := s.svc.InsertUnavailable(ctx, doc, req.Version, date, req.After); err != nil {
		return nil, toStatus(err)
	}
	return encode(StatusResponse{Status: "accepted"})
}

func (s *Server) SetInForce(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req InForceMessage
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	doc, err := s.doc(DocRequest{Domain: req.Domain, IDLocal: req.IDLocal})
	if err != nil {
		return nil, err
	}
	n, err := s.svc.SetInForce(ctx, doc, req.InForce)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(InForceMessage{InForce: req.InForce, Updated: n})
}

// ========== Reads ==========

func (s *Server) GetInForce(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	_, doc, err := s.docRequest(in)
	if err != nil {
		return nil, err
	}
	v, err := s.svc.InForce(ctx, doc)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(InForceMessage{Domain: doc.Domain, IDLocal: doc.IDLocal, InForce: v})
}

func (s *Server) Resolve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, doc, err := s.docRequest(in)
	if err != nil {
		return nil, err
	}
	label := req.Version
	if label == "" {
		label = history.LatestAlias
	}
	v, err := s.svc.Resolve(ctx, doc, label)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(ResolveResponse{Edition: v})
}

func (s *Server) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	_, doc, err := s.docRequest(in)
	if err != nil {
		return nil, err
	}
	h, err := s.svc.History(ctx, doc)
	if err != nil {
		return nil, toStatus(err)
	}
	data, err := h.MarshalJSON()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return encode(HistoryResponse{Alias: s.svc.Alias(doc.IDLocal), Document: data})
}

func (s *Server) Changes(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, doc, err := s.docRequest(in)
	if err != nil {
		return nil, err
	}
	if req.Version == "" {
		return nil, status.Error(codes.InvalidArgument, "version is required")
	}
	changes, err := s.svc.Changes(ctx, doc, req.Version)
	if err != nil {
		return nil, toStatus(err)
	}
	if changes == nil {
		changes = []history.Change{}
	}
	return encode(ChangesResponse{Changes: changes})
}

func (s *Server) VersionsAvailability(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, doc, err := s.docRequest(in)
	if err != nil {
		return nil, err
	}
	if req.SubID == "" {
		return nil, status.Error(codes.InvalidArgument, "sub_id is required")
	}
	versions, err := s.svc.VersionsAvailability(ctx, doc, req.SubID)
	if err != nil {
		return nil, toStatus(err)
	}
	if versions == nil {
		versions = []history.VersionAvailability{}
	}
	return encode(VersionsResponse{Versions: versions})
}

func (s *Server) Health(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.svc.Health(ctx); err != nil {
		return nil, status.Errorf(codes.Unavailable, "store: %v", err)
	}
	return encode(map[string]any{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
