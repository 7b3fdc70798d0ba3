package web

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itohio/lorameter/pkg/payload"
	"github.com/itohio/lorameter/pkg/uplink"
)

// StatusSource provides the scheduler status.
type StatusSource interface {
	Status() uplink.Status
}

// Ensure *uplink.Scheduler implements StatusSource.
var _ StatusSource = (*uplink.Scheduler)(nil)

// Server serves the node status, metrics and the payload formatter.
type Server struct {
	appName   string
	logger    log.Logger
	source    StatusSource
	formatter *payload.Formatter
}

// NewServer creates a server reading status from source. A nil formatter
// selects the formatter shipped with the node.
func NewServer(appName string, logger log.Logger, source StatusSource, formatter *payload.Formatter) *Server {
	logger = log.With(logger, "component", "web")
	if formatter == nil {
		formatter = payload.NewFormatter("")
	}
	return &Server{
		appName:   appName,
		logger:    logger,
		source:    source,
		formatter: formatter,
	}
}

// Router returns the HTTP routes of the node.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", s.Health).Methods(http.MethodGet)
	r.HandleFunc("/status", s.StatusQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/decode/{payload}", s.DecodeQuery).Methods(http.MethodGet)
	r.HandleFunc("/api/formatter", s.FormatterQuery).Methods(http.MethodGet)

	return handlers.CompressHandler(
		handlers.CORS(handlers.AllowedOrigins([]string{"*"}))(r),
	)
}

type statusResponse struct {
	App              string    `json:"app"`
	State            string    `json:"state"`
	Counter          uint32    `json:"counter"`
	DataRate         string    `json:"data_rate,omitempty"`
	SpreadingFactor  int       `json:"spreading_factor,omitempty"`
	Iterations       uint64    `json:"iterations"`
	Sent             uint64    `json:"sent"`
	Errors           uint64    `json:"errors"`
	Aborted          uint64    `json:"aborted"`
	RMSCurrent       float32   `json:"rms_current"`
	ApparentPower    float32   `json:"apparent_power"`
	SampleDurationMS int64     `json:"sample_duration_ms"`
	LastResult       string    `json:"last_result,omitempty"`
	LastCode         int       `json:"last_code"`
	LastWindow       int       `json:"last_window,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	LastStage        string    `json:"last_stage,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func newStatusResponse(app string, st uplink.Status) statusResponse {
	resp := statusResponse{
		App:              app,
		State:            st.State.String(),
		Counter:          uint32(st.Counter),
		Iterations:       st.Iterations,
		Sent:             st.Sent,
		Errors:           st.Errors,
		Aborted:          st.Aborted,
		RMSCurrent:       st.Measurement.RMSCurrent,
		ApparentPower:    st.Measurement.ApparentPower,
		SampleDurationMS: st.Measurement.SampleDurationMillis(),
		LastError:        st.LastError,
		LastStage:        st.LastStage,
		UpdatedAt:        st.UpdatedAt,
	}
	if st.DataRate.Valid() {
		resp.DataRate = st.DataRate.String()
		resp.SpreadingFactor = st.DataRate.SpreadingFactor()
	}
	if st.Sent > 0 {
		resp.LastResult = st.LastResult.Kind.String()
		resp.LastCode = st.LastResult.Code
		resp.LastWindow = st.LastResult.Window
	}
	return resp
}

// StatusQuery returns the last scheduler snapshot as JSON.
func (s *Server) StatusQuery(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, newStatusResponse(s.appName, s.source.Status()))
}

// Health reports whether the loop is alive.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// DecodeQuery runs the uplink formatter on a hex payload, ?fport= selects
// the port.
func (s *Server) DecodeQuery(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	b, err := hex.DecodeString(vars["payload"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	fport := uint64(1)
	if p := r.URL.Query().Get("fport"); p != "" {
		fport, err = strconv.ParseUint(p, 10, 8)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	fields, err := s.formatter.Decode(uint8(fport), b)
	if err != nil {
		level.Error(s.logger).Log("msg", "can't decode payload", "payload", vars["payload"], "error", err)
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	s.writeJSON(w, http.StatusOK, fields)
}

// FormatterQuery returns the uplink formatter script for the network server.
func (s *Server) FormatterQuery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.formatter.Script()))
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		level.Error(s.logger).Log("msg", "can't marshal json", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
