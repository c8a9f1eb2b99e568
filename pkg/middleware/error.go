package middleware

import (
	"errors"
	"net/http"

	"stockplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error translates errors pushed with c.Error into JSON responses. BaseError
// carries its own status code; anything else becomes a 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil || c.Writer.Written() {
			return
		}

		var v errutil.BaseError
		if errors.As(err.Err, &v) {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: err.Error(),
		}.JSON())
	}
}
