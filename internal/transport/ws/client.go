package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"meshstream.dev/internal/meshproto"
)

// Client is the subscriber side of Server.
type Client struct {
	conn    *websocket.Conn
	pending map[string][]byte
}

// Dial connects to url and sends SUBSCRIBE.
func Dial(ctx context.Context, url, meshID, encoding string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, pending: map[string][]byte{}}
	if err := writeJSON(conn, meshproto.SubscribeMsg{
		Type:               meshproto.TypeSubscribe,
		ProtocolVersion:    meshproto.Version,
		MeshID:             meshID,
		AttachmentEncoding: encoding,
	}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// ReadFrame blocks until the next text message and returns it with the
// binary attachments that preceded it.
func (c *Client) ReadFrame() (meshproto.Frame, error) {
	for {
		typ, b, err := c.conn.ReadMessage()
		if err != nil {
			return meshproto.Frame{}, err
		}
		if typ == websocket.BinaryMessage {
			a, err := meshproto.DecodeAttachmentFrame(b)
			if err != nil {
				return meshproto.Frame{}, err
			}
			c.pending[a.Ref] = a.Data
			continue
		}
		msg, err := meshproto.DecodeMessage(b)
		if err != nil {
			return meshproto.Frame{}, err
		}
		f := meshproto.Frame{Message: msg}
		for _, ref := range msg.AttachmentRefs() {
			data, ok := c.pending[ref]
			if !ok {
				return f, fmt.Errorf("%s references attachment %q that was not received", msg.Kind(), ref)
			}
			delete(c.pending, ref)
			f.Attachments = append(f.Attachments, meshproto.Attachment{Ref: ref, Data: data})
		}
		return f, nil
	}
}

// Refresh asks the server to restream meshID.
func (c *Client) Refresh(meshID string) error {
	return writeJSON(c.conn, meshproto.RefreshMsg{
		Type:            meshproto.TypeRefresh,
		ProtocolVersion: meshproto.Version,
		MeshID:          meshID,
	})
}

func (c *Client) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	return c.conn.Close()
}
