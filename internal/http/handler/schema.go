package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"

	"selene.app/actioncore/internal/http/dto"
)

var (
	understandingSchemaOnce sync.Once
	understandingSchema     *jsonschema.Schema
)

// UnderstandingSchema publishes the JSON schema of the resolve request body
// for upstream interpreters.
func UnderstandingSchema(c *gin.Context) {
	understandingSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}
		understandingSchema = r.Reflect(&dto.ResolveRequest{})
		understandingSchema.Title = "Understanding"
	})
	c.JSON(http.StatusOK, understandingSchema)
}
