package workspaces

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PageTemplateName is the name the workspace page is registered under.
const PageTemplateName = "workspace.html"

// PageTemplate returns the template set the router installs with
// SetHTMLTemplate.
func PageTemplate() *template.Template {
	return template.Must(template.New(PageTemplateName).Parse(`<!DOCTYPE html>
<html>
	<head>
		<meta charset="utf-8"/>
		<title>{{.Name}} - Orbit</title>
	</head>
	<body data-workspace="{{.ID}}">
		{{if .Logo}}<img src="{{.Logo}}" alt="{{.Name}}" width="64" height="64">{{end}}
		<h1>{{.Name}}</h1>
	</body>
</html>
`))
}

// WorkspacePageHandler renders the workspace shell page
// GET /workspace/:id
func (h *Handlers) WorkspacePageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wsID, ok := workspaceID(c)
		if !ok {
			c.Redirect(http.StatusFound, "/")
			return
		}
		ws, err := h.workspaces.GetWorkspace(c.Request.Context(), wsID)
		if err != nil {
			slog.Error("failed to load workspace", "workspace_id", wsID, "error", err)
			c.String(http.StatusInternalServerError, "failed to load workspace")
			return
		}
		if ws == nil {
			c.Redirect(http.StatusFound, "/")
			return
		}

		name := "Workspace"
		if ws.GroupName != nil {
			name = *ws.GroupName
		}
		logo := ""
		if ws.GroupLogo != nil {
			logo = *ws.GroupLogo
		}
		c.HTML(http.StatusOK, PageTemplateName, gin.H{"ID": ws.GroupID, "Name": name, "Logo": logo})
	}
}
