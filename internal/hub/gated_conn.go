package hub

import "sync"

// GatedConn holds live broadcasts back until the connection's first message has
// been sent. It lets a session register before its snapshot is built without
// losing updates published in between or delivering them ahead of it.
type GatedConn struct {
	conn   Conn
	mu     sync.Mutex
	open   bool
	queued [][]byte
}

func NewGatedConn(conn Conn) *GatedConn {
	return &GatedConn{conn: conn}
}

func (g *GatedConn) Send(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		g.queued = append(g.queued, data)
		return nil
	}
	return g.conn.Send(data)
}

// Open sends first, then everything queued since registration, and switches
// the connection to pass-through.
func (g *GatedConn) Open(first []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return g.conn.Send(first)
	}
	if err := g.conn.Send(first); err != nil {
		return err
	}
	for _, data := range g.queued {
		if err := g.conn.Send(data); err != nil {
			return err
		}
	}
	g.queued = nil
	g.open = true
	return nil
}

func (g *GatedConn) Close() error {
	return g.conn.Close()
}
