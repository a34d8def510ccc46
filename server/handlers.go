package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/moyuren/calendar/gate"
	"github.com/moyuren/calendar/sched"
)

func newHandlers(g Obtainer, schedules Schedules, persist func([]sched.Spec) error) *handlers {
	return &handlers{
		gate:      g,
		schedules: schedules,
		persist:   persist,
	}
}

type handlers struct {
	gate      Obtainer
	schedules Schedules
	persist   func([]sched.Spec) error
}

// Calendar returns today's calendar image, ?force=1 skips the day cache
func (h *handlers) Calendar(res http.ResponseWriter, req *http.Request) {
	force := req.URL.Query().Get("force") == "1" || req.URL.Query().Get("force") == "true"
	dateKey := gate.DateKey(time.Now())

	payload, contentType, err := h.gate.Obtain(req.Context(), dateKey, force)
	if err != nil {
		var exhausted *gate.ExhaustedError
		if errors.As(err, &exhausted) {
			log.Errorf("Calendar request failed: %s", exhausted)
			http.Error(res, exhausted.Error(), http.StatusBadGateway)
			return
		}
		log.Errorf("Calendar request failed: %s", err)
		http.Error(res, "internal error", http.StatusInternalServerError)
		return
	}

	res.Header().Set("Content-Type", contentType)
	res.Write(payload)
}

// scheduleDoc is the wire form of one schedule
type scheduleDoc struct {
	Target  string `json:"target,omitempty"`
	Time    string `json:"time"`
	Enabled bool   `json:"enabled"`
}

// ListSchedules returns all configured daily sends
func (h *handlers) ListSchedules(res http.ResponseWriter, req *http.Request) {
	specs := h.schedules.Specs()
	docs := make([]scheduleDoc, 0, len(specs))
	for _, sp := range specs {
		docs = append(docs, scheduleDoc{
			Target:  sp.Target,
			Time:    formatTimeOfDay(sp.Hour, sp.Minute),
			Enabled: sp.Enabled,
		})
	}

	res.Header().Set("Content-Type", "application/json")
	json.NewEncoder(res).Encode(docs)
}

// PutSchedule creates or replaces the daily send for a target
func (h *handlers) PutSchedule(res http.ResponseWriter, req *http.Request) {
	target := mux.Vars(req)["target"]

	var doc scheduleDoc
	if err := json.NewDecoder(req.Body).Decode(&doc); err != nil {
		http.Error(res, "invalid body", http.StatusBadRequest)
		return
	}
	hour, minute, err := sched.ParseTimeOfDay(doc.Time)
	if err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}

	h.schedules.Set(sched.Spec{
		Target:  target,
		Hour:    hour,
		Minute:  minute,
		Enabled: doc.Enabled,
	})
	h.save()
	log.Infof("Schedule for %s set to %02d:%02d (enabled=%t)", target, hour, minute, doc.Enabled)

	res.WriteHeader(http.StatusNoContent)
}

// DeleteSchedule removes the daily send for a target
func (h *handlers) DeleteSchedule(res http.ResponseWriter, req *http.Request) {
	target := mux.Vars(req)["target"]

	if !h.schedules.Remove(target) {
		http.Error(res, "no schedule for target", http.StatusNotFound)
		return
	}
	h.save()
	log.Infof("Schedule for %s removed", target)

	res.WriteHeader(http.StatusNoContent)
}

func (h *handlers) Healthz(res http.ResponseWriter, req *http.Request) {
	res.WriteHeader(http.StatusOK)
	res.Write([]byte("ok"))
}

// save persists the current schedules, failures are logged only
func (h *handlers) save() {
	if h.persist == nil {
		return
	}
	if err := h.persist(h.schedules.Specs()); err != nil {
		log.Errorf("Failed to persist schedules: %s", err)
	}
}

func formatTimeOfDay(hour, minute int) string {
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04")
}
