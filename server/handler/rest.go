// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"net/http"
	"strconv"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/mux"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/server"
	"github.com/go-a2a/a2a-core/server/event"
)

// AgentCardPath is where the agent card is published.
const AgentCardPath = "/.well-known/agent.json"

// RESTHandler serves the resource-oriented HTTP transport.
//
//	POST   /v1/message                         message/send
//	POST   /v1/message:stream                  message/stream (SSE)
//	GET    /v1/tasks                           tasks/list
//	GET    /v1/tasks/{id}                      tasks/get
//	POST   /v1/tasks/{id}:cancel               tasks/cancel
//	DELETE /v1/tasks/{id}                      tasks/cancel
//	POST   /v1/tasks/{id}:resubscribe          tasks/resubscribe (SSE)
//	PUT    /v1/tasks/{id}/pushNotificationConfig
//	GET    /v1/tasks/{id}/pushNotificationConfig
//	DELETE /v1/tasks/{id}/pushNotificationConfig
//	GET    /.well-known/agent.json
type RESTHandler struct {
	dispatcher *server.Dispatcher
	cfg        config
	router     *mux.Router
}

var _ http.Handler = (*RESTHandler)(nil)

// NewRESTHandler returns the REST adapter of d.
func NewRESTHandler(d *server.Dispatcher, opts ...Option) *RESTHandler {
	if d == nil {
		panic("dispatcher cannot be nil")
	}

	h := &RESTHandler{
		dispatcher: d,
		cfg:        newConfig(opts),
		router:     mux.NewRouter(),
	}
	h.routes()

	return h
}

func (h *RESTHandler) routes() {
	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRESTError(w, r, a2a.Errorf(a2a.KindMethodNotFound, "no route for %s %s", r.Method, r.URL.Path))
	})
	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, body := toRESTError(a2a.Errorf(a2a.KindMethodNotFound, "method %s not allowed on %s", r.Method, r.URL.Path))
		writeJSON(w, http.StatusMethodNotAllowed, body)
	})

	h.router.HandleFunc(AgentCardPath, h.handleAgentCard).Methods(http.MethodGet)

	api := h.router.PathPrefix("/v1").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return h.cfg.guard(TransportREST, next, writeRESTError)
	})

	api.HandleFunc("/message", h.handleMessageSend).Methods(http.MethodPost)
	api.HandleFunc("/message:stream", h.handleMessageStream).Methods(http.MethodPost)
	api.HandleFunc("/tasks", h.handleListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id:[^/:]+}", h.handleGetTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id:[^/:]+}", h.handleCancelTask).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{id:[^/:]+}:cancel", h.handleCancelTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id:[^/:]+}:resubscribe", h.handleResubscribe).Methods(http.MethodPost, http.MethodGet)
	api.HandleFunc("/tasks/{id:[^/:]+}/pushNotificationConfig", h.handleSetPushConfig).Methods(http.MethodPut)
	api.HandleFunc("/tasks/{id:[^/:]+}/pushNotificationConfig", h.handleGetPushConfig).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id:[^/:]+}/pushNotificationConfig", h.handleDeletePushConfig).Methods(http.MethodDelete)
}

// ServeHTTP implements [http.Handler].
func (h *RESTHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// reply writes the outcome of one operation.
func (h *RESTHandler) reply(w http.ResponseWriter, r *http.Request, op string, status int, v any, err error) {
	h.cfg.metrics.ObserveRequest(TransportREST, op, string(kindOrEmpty(err)))
	if err != nil {
		h.cfg.logError(r.Context(), TransportREST, op, err)
		writeRESTError(w, r, err)
		return
	}
	if v == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, v)
}

func (h *RESTHandler) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.AgentCard())
}

func (h *RESTHandler) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	var params a2a.SendMessageParams
	if err := decodeBody(r, &params); err != nil {
		h.reply(w, r, a2a.MethodMessageSend, 0, nil, err)
		return
	}
	t, err := h.dispatcher.SendMessage(r.Context(), &params)
	h.reply(w, r, a2a.MethodMessageSend, http.StatusOK, t, err)
}

func (h *RESTHandler) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	var params a2a.SendMessageParams
	if err := decodeBody(r, &params); err != nil {
		h.reply(w, r, a2a.MethodMessageStream, 0, nil, err)
		return
	}
	sub, err := h.dispatcher.StreamMessage(r.Context(), &params)
	h.stream(w, r, a2a.MethodMessageStream, sub, err)
}

func (h *RESTHandler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.reply(w, r, a2a.MethodTasksList, 0, nil, err)
		return
	}
	res, err := h.dispatcher.ListTasks(r.Context(), filter)
	h.reply(w, r, a2a.MethodTasksList, http.StatusOK, res, err)
}

func (h *RESTHandler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.dispatcher.GetTask(r.Context(), mux.Vars(r)["id"])
	h.reply(w, r, a2a.MethodTasksGet, http.StatusOK, t, err)
}

func (h *RESTHandler) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.dispatcher.CancelTask(r.Context(), mux.Vars(r)["id"])
	h.reply(w, r, a2a.MethodTasksCancel, http.StatusOK, t, err)
}

func (h *RESTHandler) handleResubscribe(w http.ResponseWriter, r *http.Request) {
	params := &a2a.ResubscribeParams{
		ID:          mux.Vars(r)["id"],
		ResumeToken: r.URL.Query().Get("resumeToken"),
	}
	if params.ResumeToken == "" {
		params.ResumeToken = r.Header.Get("Last-Event-ID")
	}
	sub, err := h.dispatcher.Resubscribe(r.Context(), params)
	h.stream(w, r, a2a.MethodTasksResubscribe, sub, err)
}

func (h *RESTHandler) handleSetPushConfig(w http.ResponseWriter, r *http.Request) {
	var cfg a2a.PushNotificationConfig
	if err := decodeBody(r, &cfg); err != nil {
		h.reply(w, r, a2a.MethodPushNotificationSet, 0, nil, err)
		return
	}
	res, err := h.dispatcher.SetPushConfig(r.Context(), &a2a.TaskPushConfig{TaskID: mux.Vars(r)["id"], Config: &cfg})
	h.reply(w, r, a2a.MethodPushNotificationSet, http.StatusOK, res, err)
}

func (h *RESTHandler) handleGetPushConfig(w http.ResponseWriter, r *http.Request) {
	res, err := h.dispatcher.GetPushConfig(r.Context(), mux.Vars(r)["id"])
	h.reply(w, r, a2a.MethodPushNotificationGet, http.StatusOK, res, err)
}

func (h *RESTHandler) handleDeletePushConfig(w http.ResponseWriter, r *http.Request) {
	err := h.dispatcher.DeletePushConfig(r.Context(), mux.Vars(r)["id"])
	h.reply(w, r, a2a.MethodPushNotificationDelete, http.StatusNoContent, nil, err)
}

func (h *RESTHandler) stream(w http.ResponseWriter, r *http.Request, op string, sub *event.Subscription, err error) {
	h.cfg.metrics.ObserveRequest(TransportREST, op, string(kindOrEmpty(err)))
	if err != nil {
		h.cfg.logError(r.Context(), TransportREST, op, err)
		writeRESTError(w, r, err)
		return
	}
	serveSubscription(r.Context(), w, sub, restStreamCodec{}, h.cfg.logger)
}

type restStreamCodec struct{}

func (restStreamCodec) event(ev a2a.TaskEvent, token string) ([]byte, error) {
	return json.Marshal(StreamResult{TaskEvent: ev, ResumeToken: token})
}

func (restStreamCodec) failure(err error) ([]byte, error) {
	_, body := toRESTError(err)
	return json.Marshal(body)
}

// decodeBody reads a JSON request body into v. Unknown fields are rejected.
func decodeBody(r *http.Request, v any) error {
	if err := checkContentType(r); err != nil {
		return err
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v, json.RejectUnknownMembers(true)); err != nil {
		return &a2a.Error{Kind: a2a.KindInvalidRequest, Message: "invalid request body: " + err.Error(), Err: err}
	}
	return nil
}

func parseListFilter(r *http.Request) (a2a.ListFilter, error) {
	q := r.URL.Query()
	filter := a2a.ListFilter{
		SessionID: q.Get("sessionId"),
		State:     a2a.TaskState(q.Get("state")),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return a2a.ListFilter{}, a2a.NewInvalidRequestError(name + " must be an integer")
		}
		*dst = n
	}
	return filter, nil
}

func writeRESTError(w http.ResponseWriter, _ *http.Request, err error) {
	status, body := toRESTError(err)
	writeJSON(w, status, body)
}

// writeJSON writes v as a JSON body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.MarshalWrite(w, v)
}
