package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/superdialer/internal/dialer"
	"github.com/MarcoPoloResearchLab/superdialer/internal/history"
	"github.com/MarcoPoloResearchLab/superdialer/internal/notes"
	"github.com/gin-gonic/gin"
)

type callPayload struct {
	Number          string `json:"number"`
	DisplayName     string `json:"display_name"`
	Direction       string `json:"direction"`
	TimestampMillis int64  `json:"timestamp_ms"`
	DurationSeconds int64  `json:"duration_s"`
	Tag             string `json:"tag,omitempty"`
	NoteCount       int    `json:"note_count"`
}

type viewPayload struct {
	Revision  int64         `json:"revision"`
	Calls     []callPayload `json:"calls"`
	TagLabels []string      `json:"tag_labels"`
	TagFilter string        `json:"tag_filter,omitempty"`
	// DirectionFilter is empty when every direction is shown.
	DirectionFilter string `json:"direction_filter,omitempty"`
}

type numberHistoryPayload struct {
	Number      string        `json:"number"`
	DisplayName string        `json:"display_name"`
	Tag         string        `json:"tag,omitempty"`
	Calls       []callPayload `json:"calls"`
	Notes       []notePayload `json:"notes"`
}

type notePayload struct {
	ID              string `json:"id"`
	PhoneNumber     string `json:"phone_number"`
	Text            string `json:"text"`
	CreatedAtMillis int64  `json:"created_at_ms"`
}

type tagPayload struct {
	ID              string `json:"id"`
	PhoneNumber     string `json:"phone_number"`
	Label           string `json:"label"`
	CreatedAtMillis int64  `json:"created_at_ms"`
}

type noteRequestPayload struct {
	Text *string `json:"text"`
}

type tagRequestPayload struct {
	Label *string `json:"label"`
}

// newViewPayload renders state; a non-empty tagFilter keeps only calls whose
// number currently carries that label, and a non-empty direction keeps only
// calls of that direction.
func newViewPayload(state dialer.ViewState, tagFilter string, direction history.Direction) viewPayload {
	var allowed map[string]struct{}
	if tagFilter != "" {
		numbers := state.NumbersWithTag(tagFilter)
		allowed = make(map[string]struct{}, len(numbers))
		for _, number := range numbers {
			allowed[number] = struct{}{}
		}
	}

	records := history.FilterByDirection(state.CallHistory, direction)
	calls := make([]callPayload, 0, len(records))
	for _, record := range records {
		if allowed != nil {
			if _, ok := allowed[record.Number]; !ok {
				continue
			}
		}
		calls = append(calls, newCallPayload(state, record))
	}

	labels := state.TagLabels
	if labels == nil {
		labels = []string{}
	}
	return viewPayload{
		Revision:        state.Revision,
		Calls:           calls,
		TagLabels:       labels,
		TagFilter:       tagFilter,
		DirectionFilter: string(direction),
	}
}

func newCallPayload(state dialer.ViewState, record history.CallRecord) callPayload {
	return callPayload{
		Number:          record.Number,
		DisplayName:     state.DisplayName(record.Number),
		Direction:       record.Direction.String(),
		TimestampMillis: record.Timestamp.UnixMilli(),
		DurationSeconds: int64(record.Duration.Seconds()),
		Tag:             state.TagsByNumber[record.Number],
		NoteCount:       state.NoteCounts[record.Number],
	}
}

func newNotePayload(note notes.Note) notePayload {
	return notePayload{
		ID:              note.ID,
		PhoneNumber:     note.PhoneNumber,
		Text:            note.Text,
		CreatedAtMillis: note.CreatedAtMillis,
	}
}

func newTagPayload(tag notes.Tag) tagPayload {
	return tagPayload{
		ID:              tag.ID,
		PhoneNumber:     tag.PhoneNumber,
		Label:           tag.Label,
		CreatedAtMillis: tag.CreatedAtMillis,
	}
}

func (h *httpHandler) handleView(c *gin.Context) {
	direction, err := history.ParseDirectionFilter(c.Query("direction"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_direction"})
		return
	}
	c.JSON(http.StatusOK, newViewPayload(h.coordinator.State(), c.Query("tag"), direction))
}

// handleNumberHistory returns the calls and notes of a single number.
func (h *httpHandler) handleNumberHistory(c *gin.Context) {
	direction, err := history.ParseDirectionFilter(c.Query("direction"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_direction"})
		return
	}
	number := c.Param("number")
	records, err := h.coordinator.Notes(c.Request.Context(), number)
	if err != nil {
		h.respondError(c, "number_history", err)
		return
	}

	state := h.coordinator.State()
	calls := history.FilterByDirection(state.CallsFor(number), direction)
	response := numberHistoryPayload{
		Number:      number,
		DisplayName: state.DisplayName(number),
		Tag:         state.TagsByNumber[number],
		Calls:       make([]callPayload, 0, len(calls)),
		Notes:       make([]notePayload, 0, len(records)),
	}
	for _, record := range calls {
		response.Calls = append(response.Calls, newCallPayload(state, record))
	}
	for _, record := range records {
		response.Notes = append(response.Notes, newNotePayload(record))
	}
	c.JSON(http.StatusOK, response)
}

// handleRefresh starts a refresh detached from the request. With wait=true the
// response is written after the fresh merge has been published.
func (h *httpHandler) handleRefresh(c *gin.Context) {
	wait := false
	if raw := c.Query("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		wait = parsed
	}

	done := h.coordinator.Refresh(context.WithoutCancel(c.Request.Context()))
	if !wait {
		c.JSON(http.StatusAccepted, newViewPayload(h.coordinator.State(), "", ""))
		return
	}
	select {
	case <-done:
		c.JSON(http.StatusOK, newViewPayload(h.coordinator.State(), "", ""))
	case <-c.Request.Context().Done():
	}
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	records, err := h.coordinator.Notes(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.respondError(c, "list_notes", err)
		return
	}
	response := make([]notePayload, 0, len(records))
	for _, record := range records {
		response = append(response, newNotePayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"notes": response})
}

func (h *httpHandler) handleAddNote(c *gin.Context) {
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Text == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.coordinator.AddNote(c.Request.Context(), c.Param("number"), *request.Text)
	if err != nil {
		h.respondError(c, "add_note", err)
		return
	}
	c.JSON(http.StatusCreated, newNotePayload(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Text == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, updated, err := h.coordinator.UpdateNote(c.Request.Context(), c.Param("id"), *request.Text)
	if err != nil {
		h.respondError(c, "update_note", err)
		return
	}
	if !updated {
		c.JSON(http.StatusOK, gin.H{"updated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true, "note": newNotePayload(note)})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	deleted, err := h.coordinator.DeleteNote(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "delete_note", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	records, err := h.coordinator.Tags(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.respondError(c, "list_tags", err)
		return
	}
	response := make([]tagPayload, 0, len(records))
	for _, record := range records {
		response = append(response, newTagPayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"tags": response})
}

func (h *httpHandler) handleSetTag(c *gin.Context) {
	var request tagRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Label == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tag, err := h.coordinator.SetTag(c.Request.Context(), c.Param("number"), *request.Label)
	if err != nil {
		h.respondError(c, "set_tag", err)
		return
	}
	c.JSON(http.StatusOK, newTagPayload(tag))
}

func (h *httpHandler) handleClearTag(c *gin.Context) {
	if err := h.coordinator.ClearTag(c.Request.Context(), c.Param("number")); err != nil {
		h.respondError(c, "clear_tag", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTagLabels(c *gin.Context) {
	labels, err := h.coordinator.TagLabels(c.Request.Context())
	if err != nil {
		h.respondError(c, "tag_labels", err)
		return
	}
	if labels == nil {
		labels = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels})
}
