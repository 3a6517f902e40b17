package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sharetube/syncserver/internal/protocol"
	"github.com/sharetube/syncserver/internal/service/room"
)

type createRoomInput struct {
	RoomID    string `json:"roomId" validate:"omitempty,alphanum,max=64"`
	ContentID string `json:"contentId" validate:"required,max=128"`
}

type createRoomOutput struct {
	RoomID string                  `json:"roomId"`
	State  protocol.SnapshotOutput `json:"state"`
}

func (c controller) createRoom(w http.ResponseWriter, r *http.Request) {
	var input createRoomInput
	if err := readJSON(w, r, &input); err != nil {
		c.logger.DebugContext(r.Context(), "failed to read json", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, envelope{"error": protocol.ErrorOutput{
			Code:    protocol.CodeInvalidMessage,
			Message: protocol.CodeInvalidMessage.Message(),
		}})
		return
	}

	if validationErrors, ok := c.validate.Validate(input); !ok {
		c.logger.DebugContext(r.Context(), "validation failed", "errors", validationErrors)
		writeJSON(w, http.StatusBadRequest, envelope{"errors": validationErrors})
		return
	}

	resp, err := c.roomService.CreateRoom(r.Context(), &room.CreateRoomParams{
		RoomID:    input.RoomID,
		ContentID: input.ContentID,
	})
	if err != nil {
		c.logger.InfoContext(r.Context(), "failed to create room", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, envelope{"data": createRoomOutput{
		RoomID: resp.RoomID,
		State:  protocol.NewSnapshotOutput(resp.Snapshot),
	}})
}

func (c controller) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room-id")

	snapshot, err := c.roomService.GetRoomState(r.Context(), roomID)
	if err != nil {
		c.logger.DebugContext(r.Context(), "failed to get room state", "room_id", roomID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{"data": protocol.NewSnapshotOutput(snapshot)})
}
