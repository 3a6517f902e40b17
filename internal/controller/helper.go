package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/protocol"
)

const maxBodyBytes = 1 << 16

type envelope map[string]any

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to decode body: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must contain a single json value")
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	code := protocol.CodeFor(err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRoomExists):
		writeJSON(w, http.StatusConflict, envelope{"error": protocol.ErrorOutput{
			Code:    protocol.CodeInvalidMessage,
			Message: "room already exists",
		}})
		return
	case code == protocol.CodeRoomNotFound, code == protocol.CodeContentNotFound:
		status = http.StatusNotFound
	case code == protocol.CodeInvalidMessage:
		status = http.StatusBadRequest
	}

	writeJSON(w, status, envelope{"error": protocol.ErrorOutput{Code: code, Message: code.Message()}})
}
