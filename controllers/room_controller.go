package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ward-backend/services"
	"ward-backend/utils"
)

const defaultEventLimit = 50

type RoomController struct {
	responder
	ledger      *services.RoomLedger
	coordinator *services.Coordinator
	reconciler  *services.Reconciler
	emptyIs404  bool
}

type RoomControllerOptions struct {
	Ledger      *services.RoomLedger
	Coordinator *services.Coordinator
	Reconciler  *services.Reconciler
	Logger      *zap.Logger
	// EmptyIs404 answers an empty available-rooms list with 404.
	EmptyIs404  bool
	Development bool
}

func NewRoomController(opts RoomControllerOptions) *RoomController {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomController{
		responder:   responder{log: log, dev: opts.Development},
		ledger:      opts.Ledger,
		coordinator: opts.Coordinator,
		reconciler:  opts.Reconciler,
		emptyIs404:  opts.EmptyIs404,
	}
}

func (rc *RoomController) GetAvailableRooms(c *gin.Context) {
	rooms, err := rc.ledger.AvailableRooms(c.Request.Context())
	if err != nil {
		rc.respondError(c, err)
		return
	}
	if len(rooms) == 0 && rc.emptyIs404 {
		utils.JSONErrorDetails(c, http.StatusNotFound, string(services.KindNotFound), "no available rooms", "")
		return
	}
	utils.JSONSuccess(c, http.StatusOK, rooms)
}

func (rc *RoomController) GetRooms(c *gin.Context) {
	rooms, err := rc.ledger.ListRooms(c.Request.Context())
	if err != nil {
		rc.respondError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, rooms)
}

func (rc *RoomController) CreateRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rc.bindError(c, err)
		return
	}
	room, err := rc.ledger.CreateRoom(c.Request.Context(), caller(c), req.RoomNumber, *req.Floor)
	if err != nil {
		rc.respondError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusCreated, room)
}

func (rc *RoomController) UpdateRoom(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rc.bindError(c, err)
		return
	}
	room, err := rc.ledger.UpdateRoom(c.Request.Context(), caller(c), id, req.RoomNumber, *req.Floor)
	if err != nil {
		rc.respondError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, room)
}

func (rc *RoomController) DeleteRoom(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	room, err := rc.ledger.DeleteRoom(c.Request.Context(), caller(c), id)
	if err != nil {
		rc.respondError(c, err)
		return
	}
	utils.JSONMessage(c, http.StatusOK, "room deleted successfully", room)
}

func (rc *RoomController) ReserveRoom(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONErrorDetails(c, http.StatusBadRequest, string(services.KindMissingFields), "patient id is required", "")
		return
	}
	if err := rc.coordinator.Reserve(c.Request.Context(), caller(c), id, req.PatientID); err != nil {
		rc.respondError(c, err)
		return
	}
	utils.JSONMessage(c, http.StatusOK, "room reserved successfully", nil)
}

func (rc *RoomController) CheckoutRoom(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	patient, err := rc.coordinator.Checkout(c.Request.Context(), caller(c), id)
	if err != nil {
		rc.respondError(c, err)
		return
	}
	utils.JSONMessage(c, http.StatusOK, fmt.Sprintf("patient %s checked out successfully", patient.Name), patient)
}

func (rc *RoomController) GetRoomEvents(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.JSONErrorDetails(c, http.StatusBadRequest, string(services.KindInvalidInput), "invalid limit", "")
			return
		}
		limit = n
	}
	events, err := rc.ledger.RoomEvents(c.Request.Context(), id, limit)
	if err != nil {
		rc.respondError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, events)
}

func (rc *RoomController) GetAudit(c *gin.Context) {
	divergences, err := rc.reconciler.Audit(c.Request.Context(), caller(c))
	if err != nil {
		rc.respondError(c, err)
		return
	}
	utils.JSONSuccess(c, http.StatusOK, divergences)
}
