// Package meshfile stores meshes as .mesh.zst files: a JSON header line
// followed by a gob body, all inside one zstd stream.
package meshfile

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"meshstream.dev/internal/mesh"
)

const Version = 1

// Header is readable without decoding the body.
type Header struct {
	Version    int        `json:"version"`
	Points     int        `json:"points"`
	Polys      int        `json:"polys"`
	PointsType string     `json:"points_type"`
	Bounds     [6]float64 `json:"bounds"`
	CreatedAt  time.Time  `json:"created_at"`
}

type fileV1 struct {
	Header Header
	Type   int
	F32    []float32
	F64    []float64
	Verts  []uint32
	Lines  []uint32
	Polys  []uint32
	Strips []uint32
}

func Write(path string, pd *mesh.PolyData) (err error) {
	if err := pd.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	body := fileV1{
		Header: Header{
			Version:    Version,
			Points:     pd.Points.Len(),
			Polys:      len(pd.Polys),
			PointsType: pd.Points.Type.ClassName(),
			Bounds:     [6]float64(pd.Bounds()),
			CreatedAt:  time.Now().UTC(),
		},
		Type:   int(pd.Points.Type),
		F32:    pd.Points.F32,
		F64:    pd.Points.F64,
		Verts:  pd.Verts,
		Lines:  pd.Lines,
		Polys:  pd.Polys,
		Strips: pd.Strips,
	}
	hb, _ := json.Marshal(body.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&body); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func open(path string) (*os.File, *zstd.Decoder, *bufio.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, nil, err
	}
	return f, dec, bufio.NewReaderSize(dec, 256*1024), nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, dec, br, err := open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	defer dec.Close()
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

func Read(path string) (*mesh.PolyData, error) {
	f, dec, br, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defer dec.Close()

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	var body fileV1
	if err := gob.NewDecoder(br).Decode(&body); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	if body.Header.Version != Version {
		return nil, fmt.Errorf("meshfile: unsupported version %d", body.Header.Version)
	}
	pd := &mesh.PolyData{
		Points: mesh.Points{Type: mesh.ScalarType(body.Type), F32: body.F32, F64: body.F64},
		Verts:  body.Verts,
		Lines:  body.Lines,
		Polys:  body.Polys,
		Strips: body.Strips,
	}
	if err := pd.Validate(); err != nil {
		return nil, err
	}
	return pd, nil
}

// Loader is a mesh.Pipeline over a mesh file. Update re-reads the file only
// when its size or modification time changed.
type Loader struct {
	path string

	mu      sync.Mutex
	out     *mesh.PolyData
	modTime time.Time
	size    int64
}

var _ mesh.Pipeline = (*Loader)(nil)

func NewLoader(path string) *Loader { return &Loader{path: path} }

func (l *Loader) Path() string { return l.path }

func (l *Loader) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := os.Stat(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil && st.ModTime().Equal(l.modTime) && st.Size() == l.size {
		return nil
	}
	pd, err := Read(l.path)
	if err != nil {
		return err
	}
	l.out, l.modTime, l.size = pd, st.ModTime(), st.Size()
	return nil
}

func (l *Loader) Output() *mesh.PolyData {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out
}

// Stale reports whether the file changed since the last Update.
func (l *Loader) Stale() bool {
	st, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out == nil || !st.ModTime().Equal(l.modTime) || st.Size() != l.size
}
