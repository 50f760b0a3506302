// Signed file delivery.
//
// Signed URLs issued by the storage layer point back at this handler, which
// re-verifies the expiry and signature before streaming the object. The route
// is unauthenticated on purpose: possession of a valid, unexpired signature is
// the credential, exactly as with cloud object-store signed URLs.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-recipe-backend/internal/storage"
)

// ServeSignedFile godoc
// @ID          serveSignedFile
// @Summary     Serve a signed object
// @Description Streams a stored object when the exp/sig query pair matches the signature issued for it. Expired or tampered links are rejected.
// @Tags        Files
// @Produce     octet-stream
//
// @Param       path  path   string  true  "Object path"
// @Param       exp   query  int     true  "Expiry (unix seconds)"
// @Param       sig   query  string  true  "HMAC signature"
//
// @Success     200  {file}    file
// @Failure     403  {object}  handlers.ErrorResponse "Expired or invalid signature"
// @Failure     404  {object}  handlers.ErrorResponse "Object not found"
// @Router      /files/{path} [get]
func ServeSignedFile(store *storage.DiskStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		objectPath := strings.TrimPrefix(c.Param("path"), "/")
		exp, err := strconv.ParseInt(c.Query("exp"), 10, 64)
		if err != nil {
			fail(c, http.StatusForbidden, ErrCodeForbidden, "invalid signature")
			return
		}
		if err := store.Verify(objectPath, exp, c.Query("sig")); err != nil {
			fail(c, http.StatusForbidden, ErrCodeForbidden, "invalid signature")
			return
		}

		fp, err := store.FilePath(objectPath)
		if err != nil {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "object not found")
			return
		}
		c.File(fp)
	}
}
