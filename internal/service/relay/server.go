package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"greenbox/internal/model"
	"greenbox/internal/utils/log"
	apperrors "greenbox/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// identityHeader carries the authenticated principal id. Verifying the
// credential behind it belongs to the identity-provider layer in front of the
// relay; the relay enforces what that principal may do.
const identityHeader = "X-Identity"

const outboundBuffer = 16

type (
	Directory interface {
		Get(ctx context.Context, id string) (*model.Identity, error)
	}

	Ledger interface {
		Request(ctx context.Context, requester, other string) error
		Accept(ctx context.Context, identity, other string) error
		IsActive(ctx context.Context, a, b string) (bool, error)
	}

	EnvelopeStore interface {
		Save(ctx context.Context, env *model.LocationEnvelope) error
	}

	// Server is the relay boundary: it stores-and-pushes sealed envelopes
	// and is the single place the write and read authorization rules are
	// enforced. Write iff caller == sender and the friendship is active;
	// read iff caller == recipient.
	Server struct {
		addr string

		directory   Directory
		friendships Ledger
		envelopes   EnvelopeStore

		mu   sync.Mutex
		subs map[string]*subscriber
	}

	// subscriber serializes all writes to one websocket through a single
	// goroutine, which also preserves per-sender publish order.
	subscriber struct {
		identity string
		conn     *websocket.Conn
		outbound chan *model.LocationEnvelope
		done     chan struct{}
	}
)

func NewServer(addr string, directory Directory, friendships Ledger, envelopes EnvelopeStore) *Server {
	return &Server{
		addr:        addr,
		directory:   directory,
		friendships: friendships,
		envelopes:   envelopes,
		subs:        make(map[string]*subscriber),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/envelopes", s.handlePublish()).Methods(http.MethodPost)
	r.HandleFunc("/subscribe", s.handleSubscribe()).Methods(http.MethodGet)
	r.HandleFunc("/identities/{id}", s.handleGetIdentity()).Methods(http.MethodGet)
	r.HandleFunc("/friendships", s.handleRequestFriendship()).Methods(http.MethodPost)
	r.HandleFunc("/friendships/accept", s.handleAcceptFriendship()).Methods(http.MethodPost)

	return r
}

func (s *Server) Run() error {
	return http.ListenAndServe(s.addr, s.Router())
}

func caller(r *http.Request) string {
	return r.Header.Get(identityHeader)
}

func (s *Server) handlePublish() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		principal := caller(r)
		if principal == "" {
			http.Error(w, "missing identity", http.StatusUnauthorized)
			return
		}

		var env model.LocationEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, "malformed envelope", http.StatusBadRequest)
			return
		}
		if env.SenderID == "" || env.RecipientID == "" || len(env.Payload) == 0 {
			http.Error(w, "sender, recipient and payload are required", http.StatusBadRequest)
			return
		}

		if env.SenderID != principal {
			http.Error(w, "sender does not match caller", http.StatusForbidden)
			return
		}

		active, err := s.friendships.IsActive(ctx, env.SenderID, env.RecipientID)
		if err != nil {
			log.Error("friendship lookup failed", zap.Error(err))
			http.Error(w, "friendship lookup failed", http.StatusInternalServerError)
			return
		}
		if !active {
			http.Error(w, "sharing is not active for this pair", http.StatusForbidden)
			return
		}

		env.ID = uuid.NewString()
		env.CreatedAt = time.Now().UTC()

		if err := s.envelopes.Save(ctx, &env); err != nil {
			log.Error("envelope store failed", zap.Error(err))
			http.Error(w, "envelope store failed", http.StatusInternalServerError)
			return
		}

		s.deliver(&env)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(&env)
	}
}

// deliver pushes the envelope to the recipient's live subscription, if any.
// Delivery is at-most-once: no subscription, or a full outbound buffer, means
// the envelope is only retained until it expires.
func (s *Server) deliver(env *model.LocationEnvelope) {
	s.mu.Lock()
	sub, ok := s.subs[env.RecipientID]
	s.mu.Unlock()
	if !ok {
		return
	}

	select {
	case sub.outbound <- env:
	case <-sub.done:
	default:
		log.Warn("subscriber is lagging, dropping envelope",
			zap.String("recipient", env.RecipientID))
	}
}

func (s *Server) handleSubscribe() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		principal := caller(r)
		if principal == "" {
			http.Error(w, "missing identity", http.StatusUnauthorized)
			return
		}

		// Register before the handshake completes so a publish racing the
		// subscribe lands in the outbound buffer instead of being missed.
		sub := &subscriber{
			identity: principal,
			outbound: make(chan *model.LocationEnvelope, outboundBuffer),
			done:     make(chan struct{}),
		}

		s.mu.Lock()
		if _, ok := s.subs[principal]; ok {
			s.mu.Unlock()
			http.Error(w, "identity already subscribed", http.StatusConflict)
			return
		}
		s.subs[principal] = sub
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.mu.Lock()
			delete(s.subs, principal)
			s.mu.Unlock()
			return
		}
		sub.conn = conn

		go sub.writeLoop()
		go s.readLoop(sub)
	}
}

func (sub *subscriber) writeLoop() {
	for {
		select {
		case env := <-sub.outbound:
			if err := sub.conn.WriteJSON(env); err != nil {
				log.Debug("subscriber write failed", zap.Error(err))
				return
			}
		case <-sub.done:
			return
		}
	}
}

// readLoop drains the connection to notice the peer going away; subscribers
// never send application data.
func (s *Server) readLoop(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			log.Debug("subscriber web socket closed",
				zap.String("identity", sub.identity), zap.Error(err))
			break
		}
	}

	s.mu.Lock()
	if s.subs[sub.identity] == sub {
		delete(s.subs, sub.identity)
	}
	s.mu.Unlock()

	close(sub.done)
	sub.conn.Close()
}

func (s *Server) handleGetIdentity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		vars := mux.Vars(r)
		id := vars["id"]

		ident, err := s.directory.Get(ctx, id)
		if err != nil {
			log.Error("identity lookup failed", zap.Error(err))
			http.Error(w, "identity lookup failed", http.StatusInternalServerError)
			return
		}
		if ident == nil {
			http.Error(w, "identity does not exist", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ident)
	}
}

func (s *Server) handleRequestFriendship() http.HandlerFunc {
	type request struct {
		Other string `json:"other"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		principal := caller(r)
		if principal == "" {
			http.Error(w, "missing identity", http.StatusUnauthorized)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Other == "" {
			http.Error(w, "other identity is required", http.StatusBadRequest)
			return
		}

		err := s.friendships.Request(r.Context(), principal, req.Other)
		if errors.Is(err, apperrors.ErrFriendshipExists) {
			http.Error(w, "friendship already exists", http.StatusConflict)
			return
		}
		if err != nil {
			log.Error("friendship request failed", zap.Error(err))
			http.Error(w, "friendship request failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) handleAcceptFriendship() http.HandlerFunc {
	type request struct {
		Other string `json:"other"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		principal := caller(r)
		if principal == "" {
			http.Error(w, "missing identity", http.StatusUnauthorized)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Other == "" {
			http.Error(w, "other identity is required", http.StatusBadRequest)
			return
		}

		err := s.friendships.Accept(r.Context(), principal, req.Other)
		if errors.Is(err, apperrors.ErrFriendshipNotFound) {
			http.Error(w, "friendship does not exist", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("friendship accept failed", zap.Error(err))
			http.Error(w, "friendship accept failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}
