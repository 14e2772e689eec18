package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ward-backend/middleware"
	"ward-backend/services"
	"ward-backend/utils"
)

// retryAfterSeconds is sent with Contention responses.
const retryAfterSeconds = 1

var kindStatus = map[services.Kind]int{
	services.KindNotFound:         http.StatusNotFound,
	services.KindRoomNotFound:     http.StatusNotFound,
	services.KindRoomUnavailable:  http.StatusBadRequest,
	services.KindRoomInUse:        http.StatusBadRequest,
	services.KindNoPatientInRoom:  http.StatusBadRequest,
	services.KindAlreadyAdmitted:  http.StatusConflict,
	services.KindDuplicatePatient: http.StatusConflict,
	services.KindDuplicateRoom:    http.StatusConflict,
	services.KindDuplicateUser:    http.StatusConflict,
	services.KindMissingFields:    http.StatusBadRequest,
	services.KindInvalidInput:     http.StatusBadRequest,
	services.KindUnauthorized:     http.StatusUnauthorized,
	services.KindForbidden:        http.StatusForbidden,
	services.KindContention:       http.StatusConflict,
	services.KindInternal:         http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind services.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// responder writes typed service errors. Internal details reach the client
// only in development.
type responder struct {
	log *zap.Logger
	dev bool
}

func (r responder) respondError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	status := StatusFor(kind)

	message := "internal server error"
	var typed *services.Error
	if errors.As(err, &typed) && kind != services.KindInternal {
		message = typed.Message
	}
	details := ""
	if kind == services.KindInternal {
		r.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.RequestID(c)),
			zap.Error(err),
		)
		if r.dev {
			details = err.Error()
		}
	}
	if kind == services.KindContention {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	_ = c.Error(err)
	utils.JSONErrorDetails(c, status, string(kind), message, details)
}

func (r responder) bindError(c *gin.Context, err error) {
	details := ""
	if r.dev {
		details = err.Error()
	}
	utils.JSONErrorDetails(c, http.StatusBadRequest, string(services.KindMissingFields), "missing or invalid fields", details)
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.JSONErrorDetails(c, http.StatusBadRequest, string(services.KindInvalidInput), "invalid "+name, "")
		return 0, false
	}
	return uint(id), true
}

func caller(c *gin.Context) services.Caller {
	cl, _ := middleware.CurrentCaller(c)
	return cl
}
