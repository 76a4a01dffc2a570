package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
)

// PairingResponse is the body of a successful POST /api/v1/pairing.
type PairingResponse struct {
	Message  string `json:"message"`
	ClosesAt string `json:"closes_at"`
}

// handlePairing opens the pairing window.
//
// Body: {"pairing_time": 90}. An empty body or a missing pairing_time uses
// the configured default. The value is parsed like the MQTT start_pairing
// request, so numeric strings are accepted.
func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	params := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	seconds, err := zigbee.RequestMessage{Params: params}.PairingTime()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	confirmation, err := s.bridge.StartPairing(r.Context(), seconds)
	switch {
	case errors.Is(err, zigbee.ErrInvalidPairingTime):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case err != nil:
		s.logger.Warn("pairing request failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}

	resp := PairingResponse{Message: confirmation}
	if _, closesAt := s.bridge.PairingState(); !closesAt.IsZero() {
		resp.ClosesAt = closesAt.UTC().Format(time.RFC3339)
	}
	s.logger.Info("pairing window opened via API", "seconds", seconds, "request_id", requestIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, resp)
}
