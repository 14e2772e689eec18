package utils

import "github.com/gin-gonic/gin"

func JSONSuccess(c *gin.Context, code int, data interface{}) {
	c.JSON(code, gin.H{"success": true, "data": data})
}

func JSONMessage(c *gin.Context, code int, message string, data interface{}) {
	body := gin.H{"success": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(code, body)
}

// JSONErrorDetails writes a failure body with a machine-readable kind and
// optional details.
func JSONErrorDetails(c *gin.Context, code int, kind, message, details string) {
	body := gin.H{"success": false, "error": message, "kind": kind}
	if details != "" {
		body["details"] = details
	}
	c.JSON(code, body)
}
