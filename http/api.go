package http

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/geom"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/modules"
	"github.com/aukilabs/kenaz/snapshot"
	"github.com/aukilabs/kenaz/weld"
	"github.com/go-gl/mathgl/mgl32"
	"google.golang.org/protobuf/encoding/protodelim"
)

const (
	protobufContentType = "application/x-protobuf"
)

// API serves the spaces of a store as a JSON REST API.
type API struct {
	Spaces *models.SpaceStore

	// Where spaces are saved on demand. Snapshot requests fail when nil.
	Snapshots *snapshot.Store

	// Creates the modules a module message can be routed to.
	NewModules func() []modules.Module
}

// Register adds the API routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /spaces", a.handleListSpaces)
	mux.HandleFunc("POST /spaces", a.handleCreateSpace)
	mux.HandleFunc("GET /spaces/{id}", a.handleGetSpace)
	mux.HandleFunc("DELETE /spaces/{id}", a.handleDeleteSpace)
	mux.HandleFunc("PUT /spaces/{id}/config", a.handleReconfigure)

	mux.HandleFunc("GET /spaces/{id}/points", a.handleListPoints)
	mux.HandleFunc("POST /spaces/{id}/points", a.handleAddPoints)
	mux.HandleFunc("GET /spaces/{id}/points/{pid}", a.handleGetPoint)
	mux.HandleFunc("PUT /spaces/{id}/points/{pid}", a.handleMovePoint)
	mux.HandleFunc("DELETE /spaces/{id}/points/{pid}", a.handleRemovePoint)

	mux.HandleFunc("POST /spaces/{id}/balance", a.handleBalance)
	mux.HandleFunc("POST /spaces/{id}/query/box", a.handleQueryBox)
	mux.HandleFunc("POST /spaces/{id}/query/sphere", a.handleQuerySphere)
	mux.HandleFunc("POST /spaces/{id}/query/frustum", a.handleQueryFrustum)

	mux.HandleFunc("GET /spaces/{id}/structure", a.handleGetStructure)
	mux.HandleFunc("PUT /spaces/{id}/structure", a.handleRestoreStructure)
	mux.HandleFunc("POST /spaces/{id}/snapshot", a.handleSnapshot)

	mux.HandleFunc("POST /spaces/{id}/modules/{module}/{msg}", a.handleModuleMsg)

	mux.HandleFunc("POST /weld", a.handleWeld)
}

type CreateSpaceRequest struct {
	Name string `json:"name"`

	// Defaults to models.DefaultBalanceConfig when nil.
	Config *models.BalanceConfig `json:"config,omitempty"`

	// The id of a space whose split planes are copied into the new space.
	StructureFrom string `json:"structure_from,omitempty"`
}

type ListSpacesResponse struct {
	Spaces []models.SpaceStats `json:"spaces"`
}

type PointsRequest struct {
	Points []mgl32.Vec3 `json:"points"`
}

type PointsResponse struct {
	Points []models.Point `json:"points"`
}

type MovePointRequest struct {
	Position mgl32.Vec3 `json:"position"`
}

type BoxQuery struct {
	Min mgl32.Vec3 `json:"min"`
	Max mgl32.Vec3 `json:"max"`
}

type SphereQuery struct {
	Center mgl32.Vec3 `json:"center"`
	Radius float32    `json:"radius"`
}

type FrustumQuery struct {
	// A column major view-projection matrix.
	ViewProjection mgl32.Mat4 `json:"view_projection"`
}

type WeldRequest struct {
	Mesh weld.Mesh `json:"mesh"`

	// Defaults to weld.DefaultOptions when nil.
	Options *weld.Options `json:"options,omitempty"`
}

func (a *API) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	spaces := a.Spaces.List()

	res := ListSpacesResponse{
		Spaces: make([]models.SpaceStats, len(spaces)),
	}
	for i, s := range spaces {
		res.Spaces[i] = s.Stats()
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	var req CreateSpaceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	conf := models.DefaultBalanceConfig()
	if req.Config != nil {
		conf = *req.Config
	}
	if err := conf.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	space := models.NewSpace(req.Name, conf)

	if req.StructureFrom != "" {
		from, err := a.Spaces.Get(req.StructureFrom)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var structure bytes.Buffer
		if err := from.WriteStructure(&structure); err != nil {
			writeError(w, r, err)
			return
		}
		if err := space.RestoreStructure(&structure); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if err := a.Spaces.Add(space); err != nil {
		writeError(w, r, err)
		return
	}

	logs.WithTag("space_id", space.ID).
		WithTag("name", space.Name).
		Info("space created")
	writeJSON(w, http.StatusCreated, space.Stats())
}

func (a *API) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, space.Stats())
}

func (a *API) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Remove(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if a.Snapshots != nil {
		if err := a.Snapshots.Delete(space.ID); err != nil {
			logs.Warn(errors.New("deleting space snapshot failed").
				WithTag("space_id", space.ID).
				Wrap(err))
		}
	}

	logs.WithTag("space_id", space.ID).Info("space deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var conf models.BalanceConfig
	if err := readJSON(r, &conf); err != nil {
		writeError(w, r, err)
		return
	}

	if err := space.Reconfigure(conf); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, space.Stats())
}

func (a *API) handleListPoints(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PointsResponse{Points: space.Points()})
}

func (a *API) handleAddPoints(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req PointsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	points, err := space.AddPoints(req.Points...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PointsResponse{Points: points})
}

func (a *API) handleGetPoint(w http.ResponseWriter, r *http.Request) {
	space, id, err := a.spaceAndPointID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	point, ok := space.Point(id)
	if !ok {
		writeError(w, r, errors.New("point not found").
			WithType(models.ErrTypePointNotFound).
			WithTag("space_id", space.ID).
			WithTag("point_id", id))
		return
	}
	writeJSON(w, http.StatusOK, point)
}

func (a *API) handleMovePoint(w http.ResponseWriter, r *http.Request) {
	space, id, err := a.spaceAndPointID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req MovePointRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := space.MovePoint(id, req.Position); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Point{ID: id, Position: req.Position})
}

func (a *API) handleRemovePoint(w http.ResponseWriter, r *http.Request) {
	space, id, err := a.spaceAndPointID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := space.RemovePoint(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) spaceAndPointID(r *http.Request) (*models.Space, uint32, error) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		return nil, 0, err
	}

	id, err := strconv.ParseUint(r.PathValue("pid"), 10, 32)
	if err != nil {
		return nil, 0, errors.New("invalid point id").
			WithType(ErrTypeInvalidRequest).
			WithTag("point_id", r.PathValue("pid")).
			Wrap(err)
	}
	return space, uint32(id), nil
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, space.Balance())
}

func (a *API) handleQueryBox(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var q BoxQuery
	if err := readJSON(r, &q); err != nil {
		writeError(w, r, err)
		return
	}

	points := space.QueryBox(geom.NewBox(q.Min, q.Max))
	writeJSON(w, http.StatusOK, PointsResponse{Points: points})
}

func (a *API) handleQuerySphere(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var q SphereQuery
	if err := readJSON(r, &q); err != nil {
		writeError(w, r, err)
		return
	}
	if q.Radius < 0 {
		writeError(w, r, errors.New("sphere radius must not be negative").
			WithType(ErrTypeInvalidRequest).
			WithTag("radius", q.Radius))
		return
	}

	points := space.QuerySphere(geom.NewSphere(q.Center, q.Radius))
	writeJSON(w, http.StatusOK, PointsResponse{Points: points})
}

func (a *API) handleQueryFrustum(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var q FrustumQuery
	if err := readJSON(r, &q); err != nil {
		writeError(w, r, err)
		return
	}

	points := space.QueryFrustum(geom.FrustumFromMatrix(q.ViewProjection))
	writeJSON(w, http.StatusOK, PointsResponse{Points: points})
}

func (a *API) handleGetStructure(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var structure bytes.Buffer
	if err := space.WriteStructure(&structure); err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(structure.Bytes())
}

func (a *API) handleRestoreStructure(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := space.RestoreStructure(io.LimitReader(r.Body, maxBodySize)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, space.Stats())
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if a.Snapshots == nil {
		writeError(w, r, errors.New("snapshots are not configured").
			WithType(ErrTypeUnavailable))
		return
	}

	if err := a.Snapshots.SaveSpace(space); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleModuleMsg routes a protobuf message to a module of a space. The
// responses are written as size-delimited protobuf messages.
func (a *API) handleModuleMsg(w http.ResponseWriter, r *http.Request) {
	space, err := a.Spaces.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	module, err := a.module(r.PathValue("module"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	module.Init(space)

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, r, errors.New("reading module message failed").
			WithType(ErrTypeInvalidRequest).
			Wrap(err))
		return
	}

	var responses modules.ResponseRecorder
	err = module.HandleMsg(r.Context(), &responses, modules.Msg{
		Name: r.PathValue("msg"),
		Data: data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if len(responses.Responses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	for _, res := range responses.Responses {
		if _, err := protodelim.MarshalTo(bw, res); err != nil {
			logs.Warn(errors.New("writing module response failed").
				WithTag("module", module.Name()).
				Wrap(err))
			return
		}
	}
	bw.Flush()
}

func (a *API) module(name string) (modules.Module, error) {
	if a.NewModules != nil {
		for _, m := range a.NewModules() {
			if m.Name() == name {
				return m, nil
			}
		}
	}

	return nil, errors.New("module not found").
		WithType(ErrTypeModuleNotFound).
		WithTag("module", name)
}

func (a *API) handleWeld(w http.ResponseWriter, r *http.Request) {
	var req WeldRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	opts := weld.DefaultOptions()
	if req.Options != nil {
		opts = *req.Options
	}

	mesh, err := weld.Weld(req.Mesh, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mesh)
}
