package meshproto

// CameraState is copied into metadata so the consumer can frame the mesh
// before geometry arrives.
type CameraState struct {
	Position   [3]float64 `json:"position"`
	ViewUp     [3]float64 `json:"viewUp"`
	FocalPoint [3]float64 `json:"focalPoint"`
}

// METADATA (server -> client): array sizes and types for one mesh version.
type MetadataMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	MeshID          string       `json:"uuid"`
	SessionID       string       `json:"session_id,omitempty"`
	Points          int          `json:"points"`
	PointsType      string       `json:"points_type"`
	Polys           int          `json:"polys"`
	VertsType       string       `json:"verts_type"`
	LinesType       string       `json:"lines_type"`
	PolysType       string       `json:"polys_type"`
	StripsType      string       `json:"strips_type"`
	Bounds          [6]float64   `json:"bounds"`
	Camera          *CameraState `json:"camera,omitempty"`
}

// OCTREE (server -> client): coarse voxel preview. Octree references one
// byte per cell; Dimensions are point dimensions (cells + 1 per axis).
type OctreeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	MeshID          string     `json:"uuid"`
	SessionID       string     `json:"session_id,omitempty"`
	Dimensions      [3]int     `json:"dimensions"`
	Origin          [3]float64 `json:"origin"`
	Spacing         float64    `json:"spacing"`
	Octree          string     `json:"octree"`
}

// CHUNK (server -> client): the next slice of points and, when the mesh has
// polygons, the next slice of polygon entries.
type ChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MeshID          string `json:"uuid"`
	SessionID       string `json:"session_id,omitempty"`
	ArrayType       string `json:"array_type"`
	XYZ             string `json:"xyz"`
	Polys           string `json:"polys,omitempty"`
}

// CONNECTIVITY (server -> client): final message of a stream. Polys carries
// only the polygon entries no chunk delivered.
type ConnectivityMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MeshID          string `json:"uuid"`
	SessionID       string `json:"session_id,omitempty"`
	Verts           string `json:"verts"`
	Lines           string `json:"lines"`
	Strips          string `json:"strips"`
	Polys           string `json:"polys,omitempty"`
}

// ERROR (server -> client): the stream for SessionID stopped early.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MeshID          string `json:"uuid"`
	SessionID       string `json:"session_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// SUBSCRIBE (client -> server). First message on a connection. An empty
// MeshID subscribes to every mesh.
type SubscribeMsg struct {
	Type               string `json:"type"`
	ProtocolVersion    string `json:"protocol_version"`
	MeshID             string `json:"uuid,omitempty"`
	AttachmentEncoding string `json:"attachment_encoding,omitempty"`
}

// REFRESH (client -> server): restream the current mesh version.
type RefreshMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MeshID          string `json:"uuid"`
}

func (m *MetadataMsg) Kind() string             { return TypeMetadata }
func (m *MetadataMsg) Mesh() string             { return m.MeshID }
func (m *MetadataMsg) AttachmentRefs() []string { return nil }

func (m *OctreeMsg) Kind() string             { return TypeOctree }
func (m *OctreeMsg) Mesh() string             { return m.MeshID }
func (m *OctreeMsg) AttachmentRefs() []string { return []string{m.Octree} }

func (m *ChunkMsg) Kind() string { return TypeChunk }
func (m *ChunkMsg) Mesh() string { return m.MeshID }
func (m *ChunkMsg) AttachmentRefs() []string {
	if m.Polys == "" {
		return []string{m.XYZ}
	}
	return []string{m.XYZ, m.Polys}
}

func (m *ConnectivityMsg) Kind() string { return TypeConnectivity }
func (m *ConnectivityMsg) Mesh() string { return m.MeshID }
func (m *ConnectivityMsg) AttachmentRefs() []string {
	refs := []string{m.Verts, m.Lines, m.Strips}
	if m.Polys != "" {
		refs = append(refs, m.Polys)
	}
	return refs
}

func (m *ErrorMsg) Kind() string             { return TypeError }
func (m *ErrorMsg) Mesh() string             { return m.MeshID }
func (m *ErrorMsg) AttachmentRefs() []string { return nil }
