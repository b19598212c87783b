package dagaz

import (
	"context"

	"github.com/aukilabs/hagall-common/messages/dagazpb"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/modules"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Message names routed to the dagaz module.
const (
	MsgQuadSample     = "quad_sample"
	MsgGetGroundPlane = "get_ground_plane"
	MsgGetRegion      = "get_region"
	MsgGetDebugInfo   = "get_debug_info"
)

type Module struct {
	space *models.Space
	state *State
}

func (m *Module) Name() string {
	return "dagaz"
}

func (m *Module) Init(s *models.Space) {
	m.space = s

	state := s.InitModuleState(m.Name(), func() any {
		quads := models.NewSpace(s.Name+"/"+m.Name(), s.Config())
		quads.FeatureFlags = s.FeatureFlags
		return &State{SpatialPartition: NewTreePartition(quads)}
	})
	m.state = state.(*State)
}

func (m *Module) HandleMsg(ctx context.Context, respond modules.ResponseSender, msg modules.Msg) error {
	switch msg.Name {
	case MsgQuadSample:
		return m.HandleDagazQuadSample(ctx, msg)

	case MsgGetGroundPlane:
		return m.HandleDagazGetGroundPlane(ctx, respond, msg)

	case MsgGetRegion:
		return m.HandleDagazGetRegion(ctx, respond, msg)

	case MsgGetDebugInfo:
		return m.HandleDagazGetDebugInfo(ctx, respond, msg)

	default:
		return modules.ErrModuleMsgSkip
	}
}

func (m *Module) HandleDagazQuadSample(ctx context.Context, msg modules.Msg) error {
	var newQuadSample dagazpb.DagazQuadSample
	if err := msg.DataTo(&newQuadSample); err != nil {
		return err
	}

	quads := make([]Quad, len(newQuadSample.Samples))
	for i, newQuad := range newQuadSample.Samples {
		quad, err := NewQuadFromProtobuf(newQuad)
		if err != nil {
			return err
		}
		quads[i] = quad
	}

	for _, quad := range quads {
		m.state.SpatialPartition.InsertQuad(quad)
	}
	return nil
}

func (m *Module) HandleDagazGetGroundPlane(ctx context.Context, respond modules.ResponseSender, msg modules.Msg) error {
	var req dagazpb.DagazGetGroundPlaneRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	ray := NewRayFromProtobuf(req.Ray)
	quadHit, _ := m.state.SpatialPartition.IntersectQuad(ray)

	if quadHit == nil {
		// create an invalid quad to be able to have a response:
		quadHit = &Quad{}
	}

	respond.Send(&dagazpb.DagazGetGroundPlaneResponse{
		Type:      dagazpb.MsgType_MSG_TYPE_DAGAZ_GET_GROUND_PLANE_RESPONSE,
		Timestamp: timestamppb.Now(),
		RequestId: req.RequestId,
		Ground:    quadHit.ToProtobuf(),
	})
	return nil
}

func (m *Module) HandleDagazGetRegion(ctx context.Context, respond modules.ResponseSender, msg modules.Msg) error {
	var req dagazpb.DagazGetRegionRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	regionQuads := m.state.SpatialPartition.GetRegion(NewVec3FromProtobuf(req.Min), NewVec3FromProtobuf(req.Max))
	regionQuadsProtobuf := make([]*dagazpb.Quad, len(regionQuads))
	for i, q := range regionQuads {
		regionQuadsProtobuf[i] = q.ToProtobuf()
	}

	respond.Send(&dagazpb.DagazGetRegionResponse{
		Type:      dagazpb.MsgType_MSG_TYPE_DAGAZ_GET_REGION_RESPONSE,
		Timestamp: timestamppb.Now(),
		RequestId: req.RequestId,
		Quads:     regionQuadsProtobuf,
	})
	return nil
}

func (m *Module) HandleDagazGetDebugInfo(ctx context.Context, respond modules.ResponseSender, msg modules.Msg) error {
	var req dagazpb.DagazGetDebugInfoRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	debugInfo := m.state.SpatialPartition.GetDebugInfo()

	// The grid fields have no tree counterpart but the plane and merge counts,
	// the bounds and the per leaf occupancy.
	respond.Send(&dagazpb.DagazGetDebugInfoResponse{
		Type:           dagazpb.MsgType_MSG_TYPE_DAGAZ_GET_DEBUG_INFO_RESPONSE,
		Timestamp:      timestamppb.Now(),
		RequestId:      req.RequestId,
		GridPlaneCount: debugInfo.PlaneCount,
		GridMergeCount: debugInfo.MergeCount,
		GridMinPoint:   Vec3ToProtobuf(debugInfo.MinPoint),
		GridMaxPoint:   Vec3ToProtobuf(debugInfo.MaxPoint),
		Occupancy:      debugInfo.Occupancy,
	})
	return nil
}
