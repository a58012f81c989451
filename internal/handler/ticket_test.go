package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fixly/ticket-service/internal/errs"
	"github.com/fixly/ticket-service/internal/middleware"
	"github.com/fixly/ticket-service/internal/model"
	"github.com/fixly/ticket-service/internal/realtime"
	"github.com/fixly/ticket-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// stubService records inputs and returns canned results.
type stubService struct {
	err error

	createIn  service.CreateTicketInput
	statusIn  service.ChangeStatusInput
	assignee  *uuid.UUID
	updateIn  service.UpdateTicketInput
	listIn    service.ListFilter
	noteIn    service.AddNoteInput
	lastActor service.Actor
	ticket    *model.Ticket
}

func (s *stubService) result(actor service.Actor) (*model.Ticket, error) {
	s.lastActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return s.ticket, nil
}

func (s *stubService) Create(_ context.Context, actor service.Actor, in service.CreateTicketInput) (*model.Ticket, error) {
	s.createIn = in
	return s.result(actor)
}

func (s *stubService) ChangeStatus(_ context.Context, actor service.Actor, _ uuid.UUID, in service.ChangeStatusInput) (*model.Ticket, error) {
	s.statusIn = in
	return s.result(actor)
}

func (s *stubService) Assign(_ context.Context, actor service.Actor, _ uuid.UUID, assigneeID *uuid.UUID) (*model.Ticket, error) {
	s.assignee = assigneeID
	return s.result(actor)
}

func (s *stubService) Update(_ context.Context, actor service.Actor, _ uuid.UUID, in service.UpdateTicketInput) (*model.Ticket, error) {
	s.updateIn = in
	return s.result(actor)
}

func (s *stubService) AddNote(_ context.Context, actor service.Actor, id uuid.UUID, in service.AddNoteInput) (*model.TicketNote, error) {
	s.noteIn = in
	s.lastActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return &model.TicketNote{ID: uuid.New(), TicketID: id, UserID: actor.UserID, Content: in.Content}, nil
}

func (s *stubService) Find(_ context.Context, actor service.Actor, _ uuid.UUID) (*model.Ticket, error) {
	return s.result(actor)
}

func (s *stubService) Get(_ context.Context, actor service.Actor, _ uuid.UUID) (*model.Ticket, error) {
	return s.result(actor)
}

func (s *stubService) List(_ context.Context, actor service.Actor, f service.ListFilter) (*service.ListResult, error) {
	s.listIn = f
	s.lastActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return &service.ListResult{Tickets: []model.Ticket{*s.ticket}, Total: 1, Page: 1, PageSize: 20, TotalPages: 1}, nil
}

func (s *stubService) History(_ context.Context, actor service.Actor, _ uuid.UUID) ([]model.TicketStatusLog, error) {
	s.lastActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return []model.TicketStatusLog{{ToStatus: model.StatusNew}}, nil
}

type stubSubscriber struct {
	msgs     []realtime.Message
	channels []string
}

func (s *stubSubscriber) Subscribe(_ context.Context, channels ...string) (*realtime.Subscription, error) {
	s.channels = channels
	c := make(chan realtime.Message, len(s.msgs))
	for _, m := range s.msgs {
		c <- m
	}
	close(c)
	return realtime.NewSubscription(c, func() error { return nil }), nil
}

var testActor = service.Actor{OrganizationID: uuid.New(), UserID: uuid.New()}

func newTestRouter(svc *stubService, subs Subscriber, authenticated bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if authenticated {
		r.Use(func(c *gin.Context) { middleware.SetActor(c, testActor) })
	}
	h := NewTicketHandler(svc)
	ev := NewEventsHandler(svc, subs)
	v1 := r.Group("/api/v1")
	v1.POST("/tickets", h.Create)
	v1.GET("/tickets", h.List)
	v1.GET("/tickets/:id", h.Get)
	v1.PATCH("/tickets/:id", h.Update)
	v1.POST("/tickets/:id/status", h.ChangeStatus)
	v1.POST("/tickets/:id/assign", h.Assign)
	v1.POST("/tickets/:id/notes", h.AddNote)
	v1.GET("/tickets/:id/history", h.History)
	v1.GET("/tickets/:id/qr", h.QR)
	v1.GET("/tickets/:id/events", ev.StreamTicket)
	v1.GET("/events", ev.Stream)
	return r
}

// streamRecorder adds CloseNotify so gin's c.Stream works under httptest.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func do(r http.Handler, method, path, body string) *streamRecorder {
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	w := newStreamRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sampleTicket() *model.Ticket {
	return &model.Ticket{ID: uuid.New(), Code: "FX-2025-00001", Status: model.StatusNew, Priority: model.PriorityMedium}
}

func TestCreateTicket(t *testing.T) {
	svc := &stubService{ticket: sampleTicket()}
	r := newTestRouter(svc, nil, true)
	customer, device := uuid.New(), uuid.New()

	body := `{"customer_id":"` + customer.String() + `","device_id":"` + device.String() +
		`","priority":"high","channel":"whatsapp","issue_description":"Screen flickers constantly","tags":["screen"]}`
	w := do(r, http.MethodPost, "/api/v1/tickets", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	in := svc.createIn
	if in.CustomerID != customer || in.DeviceID != device {
		t.Errorf("ids = %s/%s", in.CustomerID, in.DeviceID)
	}
	if in.Priority != model.PriorityHigh || in.Channel != model.ChannelWhatsApp {
		t.Errorf("priority/channel = %s/%s", in.Priority, in.Channel)
	}
	if in.IssueDescription != "Screen flickers constantly" || len(in.Tags) != 1 {
		t.Errorf("input = %+v", in)
	}
	if svc.lastActor != testActor {
		t.Errorf("actor = %+v", svc.lastActor)
	}
	var got model.Ticket
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Code != "FX-2025-00001" {
		t.Errorf("code = %q", got.Code)
	}
}

func TestErrorStatusCodes(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", errs.ErrTicketNotFound, http.StatusNotFound},
		{"validation", errs.ErrUnknownStatus, http.StatusBadRequest},
		{"conflict", errs.ErrDuplicateCode, http.StatusConflict},
		{"internal", errors.New("connection reset by peer"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&stubService{err: tt.err}, nil, true)
			w := do(r, http.MethodPost, "/api/v1/tickets/"+id+"/status", `{"status":"closed"}`)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(w.Body.String(), "connection reset") {
				t.Errorf("internal error leaked: %s", w.Body)
			}
		})
	}
}

func TestRejectsBadRequests(t *testing.T) {
	r := newTestRouter(&stubService{ticket: sampleTicket()}, nil, true)

	if w := do(r, http.MethodGet, "/api/v1/tickets/not-a-uuid", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/tickets", `{"customer_id":"nope"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/tickets?page=two", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad page status = %d", w.Code)
	}

	unauth := newTestRouter(&stubService{ticket: sampleTicket()}, nil, false)
	if w := do(unauth, http.MethodGet, "/api/v1/tickets", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", w.Code)
	}
}

func TestChangeStatusPassesNote(t *testing.T) {
	svc := &stubService{ticket: sampleTicket()}
	r := newTestRouter(svc, nil, true)
	w := do(r, http.MethodPost, "/api/v1/tickets/"+uuid.New().String()+"/status", `{"status":"in_repair","note":"parts arrived"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.statusIn.Status != "in_repair" || svc.statusIn.Note != "parts arrived" {
		t.Errorf("input = %+v", svc.statusIn)
	}
}

func TestAssignNullClears(t *testing.T) {
	svc := &stubService{ticket: sampleTicket()}
	r := newTestRouter(svc, nil, true)
	path := "/api/v1/tickets/" + uuid.New().String() + "/assign"

	tech := uuid.New()
	if w := do(r, http.MethodPost, path, `{"assigned_to_id":"`+tech.String()+`"}`); w.Code != http.StatusOK {
		t.Fatalf("assign status = %d", w.Code)
	}
	if svc.assignee == nil || *svc.assignee != tech {
		t.Errorf("assignee = %v", svc.assignee)
	}
	if w := do(r, http.MethodPost, path, `{"assigned_to_id":null}`); w.Code != http.StatusOK {
		t.Fatalf("unassign status = %d", w.Code)
	}
	if svc.assignee != nil {
		t.Errorf("assignee = %v, want nil", svc.assignee)
	}
}

func TestUpdateMapsFields(t *testing.T) {
	svc := &stubService{ticket: sampleTicket()}
	r := newTestRouter(svc, nil, true)
	body := `{"priority":"urgent","estimated_cost":"120.50","tags":["a","b"],"clear_estimated_completion":true}`
	if w := do(r, http.MethodPatch, "/api/v1/tickets/"+uuid.New().String(), body); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	in := svc.updateIn
	if in.Priority == nil || *in.Priority != model.PriorityUrgent {
		t.Errorf("priority = %v", in.Priority)
	}
	if in.EstimatedCost == nil || in.EstimatedCost.String() != "120.5" {
		t.Errorf("estimated cost = %v", in.EstimatedCost)
	}
	if in.Tags == nil || len(*in.Tags) != 2 || !in.ClearEstimatedCompletion {
		t.Errorf("input = %+v", in)
	}
	if in.IssueDescription != nil || in.ActualCost != nil {
		t.Errorf("absent fields must stay nil")
	}
}

func TestListParsesQuery(t *testing.T) {
	svc := &stubService{ticket: sampleTicket()}
	r := newTestRouter(svc, nil, true)
	customer := uuid.New()
	w := do(r, http.MethodGet, "/api/v1/tickets?status=in_repair&customer_id="+customer.String()+"&search=FX-2025&sort_by=priority&sort_order=asc&page=2&page_size=50", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	f := svc.listIn
	if f.Status == nil || *f.Status != model.StatusInRepair {
		t.Errorf("status filter = %v", f.Status)
	}
	if f.CustomerID == nil || *f.CustomerID != customer || f.AssignedToID != nil {
		t.Errorf("id filters = %v/%v", f.CustomerID, f.AssignedToID)
	}
	if f.Search != "FX-2025" || f.SortBy != "priority" || f.SortOrder != "asc" || f.Page != 2 || f.PageSize != 50 {
		t.Errorf("filter = %+v", f)
	}
	var res service.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil || res.Total != 1 {
		t.Errorf("body = %s (%v)", w.Body, err)
	}
}

func TestAddNoteAndHistory(t *testing.T) {
	svc := &stubService{ticket: sampleTicket()}
	r := newTestRouter(svc, nil, true)
	id := uuid.New().String()

	w := do(r, http.MethodPost, "/api/v1/tickets/"+id+"/notes", `{"content":"Backed up data","is_ai_generated":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("note status = %d", w.Code)
	}
	if svc.noteIn.Content != "Backed up data" || !svc.noteIn.IsAIGenerated {
		t.Errorf("note input = %+v", svc.noteIn)
	}

	w = do(r, http.MethodGet, "/api/v1/tickets/"+id+"/history", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"to_status":"new"`) {
		t.Errorf("history = %d %s", w.Code, w.Body)
	}
}

func TestQRRendersPNG(t *testing.T) {
	r := newTestRouter(&stubService{ticket: sampleTicket()}, nil, true)
	w := do(r, http.MethodGet, "/api/v1/tickets/"+uuid.New().String()+"/qr?size=128", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Errorf("body is not a PNG")
	}
	if w := do(r, http.MethodGet, "/api/v1/tickets/"+uuid.New().String()+"/qr?size=5", ""); w.Code != http.StatusBadRequest {
		t.Errorf("tiny size status = %d", w.Code)
	}
}

func TestStreamRelaysEvents(t *testing.T) {
	subs := &stubSubscriber{msgs: []realtime.Message{
		{Channel: "org:x", Payload: []byte(`{"event":"ticket:created","data":{"code":"FX-2025-00001"}}`)},
	}}
	r := newTestRouter(&stubService{ticket: sampleTicket()}, subs, true)

	w := do(r, http.MethodGet, "/api/v1/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event:ticket:created") || !strings.Contains(body, "FX-2025-00001") {
		t.Errorf("stream = %q", body)
	}
	wantChannels := []string{"org:" + testActor.OrganizationID.String(), "user:" + testActor.UserID.String()}
	if len(subs.channels) != 2 || subs.channels[0] != wantChannels[0] || subs.channels[1] != wantChannels[1] {
		t.Errorf("channels = %v, want %v", subs.channels, wantChannels)
	}
}

func TestStreamTicketChecksTenant(t *testing.T) {
	subs := &stubSubscriber{}
	r := newTestRouter(&stubService{err: errs.ErrTicketNotFound}, subs, true)
	w := do(r, http.MethodGet, "/api/v1/tickets/"+uuid.New().String()+"/events", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if subs.channels != nil {
		t.Errorf("subscribed despite missing ticket")
	}
}
