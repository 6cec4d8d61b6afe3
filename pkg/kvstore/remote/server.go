package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gridkv/gridstore/internal/logger"
	"github.com/gridkv/gridstore/pkg/kvstore"
)

// Server exposes any kvstore.Store over TCP.
type Server struct {
	addr     string
	store    kvstore.Store
	listener net.Listener
}

// NewServer creates a server that will listen on addr and serve store.
func NewServer(addr string, store kvstore.Store) *Server {
	return &Server{addr: addr, store: store}
}

// Addr returns the bound listen address. Only valid after Serve has started
// listening; tests use it with a ":0" address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the listener without accepting yet, so callers can learn the
// bound address before starting Serve in a goroutine.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	s.listener = listener
	return nil
}

// Serve accepts connections until ctx is cancelled. It calls Listen if the
// caller has not done so already.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	logger.Info("Store server listening on %s", s.listener.Addr())

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		tcpConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Debug("Error accepting connection: %v", err)
				continue
			}
		}

		c := &conn{store: s.store, conn: tcpConn}
		go c.serve(ctx)
	}
}

// Stop closes the listener. In-flight connections finish their current
// request.
func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

type conn struct {
	store kvstore.Store
	conn  net.Conn
}

func (c *conn) serve(ctx context.Context) {
	defer c.conn.Close()
	logger.Debug("New connection from %s", c.conn.RemoteAddr())

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := c.handleRequest(ctx); err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Debug("Error handling request: %v", err)
				}
				return
			}
		}
	}
}

func (c *conn) handleRequest(ctx context.Context) error {
	record, err := readRecord(c.conn)
	if err != nil {
		return err
	}

	var header RequestHeader
	if err := decodeParts(record, &header); err != nil {
		return err
	}

	// Re-decode header plus body in one pass; XDR has no random access.
	body := record

	switch header.Op {
	case OpGet:
		var req GetRequest
		if err := decodeParts(body, &header, &req); err != nil {
			return err
		}
		res, err := c.store.Get(ctx, req.Key)
		if err != nil {
			return c.sendError(header.XID, err)
		}
		value := res.Value
		if value == nil {
			value = []byte{}
		}
		return c.sendReply(header.XID, &GetReply{
			Missing:    res.Missing,
			Value:      value,
			Generation: string(res.Generation),
		})

	case OpPut:
		var req PutRequest
		if err := decodeParts(body, &header, &req); err != nil {
			return err
		}
		gen, err := c.store.Put(ctx, req.Key, req.Value, kvstore.WriteOptions{
			IfGenerationMatch: kvstore.Generation(req.IfGenerationMatch),
			IfNotExists:       req.IfNotExists,
		})
		if err != nil {
			return c.sendError(header.XID, err)
		}
		return c.sendReply(header.XID, &PutReply{Generation: string(gen)})

	case OpDelete:
		var req DeleteRequest
		if err := decodeParts(body, &header, &req); err != nil {
			return err
		}
		err := c.store.Delete(ctx, req.Key, kvstore.WriteOptions{
			IfGenerationMatch: kvstore.Generation(req.IfGenerationMatch),
		})
		if err != nil {
			return c.sendError(header.XID, err)
		}
		return c.sendReply(header.XID, nil)

	case OpList:
		var req ListRequest
		if err := decodeParts(body, &header, &req); err != nil {
			return err
		}
		keys, err := c.store.List(ctx, req.Prefix)
		if err != nil {
			return c.sendError(header.XID, err)
		}
		if keys == nil {
			keys = []string{}
		}
		return c.sendReply(header.XID, &ListReply{Keys: keys})

	case OpDeletePrefix:
		var req DeletePrefixRequest
		if err := decodeParts(body, &header, &req); err != nil {
			return err
		}
		if err := c.store.DeletePrefix(ctx, req.Prefix); err != nil {
			return c.sendError(header.XID, err)
		}
		return c.sendReply(header.XID, nil)

	default:
		logger.Debug("Unknown operation: %d", header.Op)
		return c.sendStatus(header.XID, StatusInvalidArgument, fmt.Sprintf("unknown operation %d", header.Op), nil)
	}
}

func (c *conn) sendReply(xid uint32, body any) error {
	return c.sendStatus(xid, StatusOK, "", body)
}

func (c *conn) sendError(xid uint32, err error) error {
	status, message := statusFromError(err)
	return c.sendStatus(xid, status, message, nil)
}

func (c *conn) sendStatus(xid uint32, status uint32, message string, body any) error {
	header := &ReplyHeader{XID: xid, Status: status, Message: message}
	if body == nil {
		return writeRecord(c.conn, header)
	}
	return writeRecord(c.conn, header, body)
}
