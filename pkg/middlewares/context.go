package middlewares

import (
	"Lantern/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/xid"
)

// CorrelationHeader carries the correlation id back to the caller.
const CorrelationHeader = "X-Correlation-ID"

// This middleware will be used to populate every incoming request's context with an Unique CorrelationID.
// Which will help to debug an issue which happened between a chain of events during handling a request.
// An inbound X-Correlation-ID is honoured so ids survive hops between services.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(gctx *gin.Context) {
		correlationID := gctx.GetHeader(CorrelationHeader)
		if correlationID == "" {
			correlationID = xid.New().String()
		}
		// Setting the correlationID in request's context
		gctx.Set(log.CorrelationIDKey, correlationID)
		// Setting the correlationID to response header
		gctx.Writer.Header().Set(CorrelationHeader, correlationID)
		gctx.Next()
	}
}

// This middleware will be used to populate every incoming request's context with an Unique UUID.
func UniqueIDMiddleware(logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		rqID, uuiderr := uuid.NewRandom()
		if uuiderr != nil {
			logger.Error().Err(uuiderr).Msg("Error during generating UUID for ReqID.")
		} else {
			gctx.Set(log.RequestIDKey, rqID.String())
		}
		gctx.Next()
	}
}
