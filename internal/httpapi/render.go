package httpapi

import (
	"fmt"
	"html/template"
	"strings"
)

// Renderer produces page bodies for browser clients. The pipeline
// decides which page and what status and cookies; the renderer only
// owns the markup.
type Renderer interface {
	LoginPage(providers map[string]string) string
	ForbiddenPage() string
	NotFoundPage() string
}

// defaultRenderer is a minimal built-in renderer used when no custom
// Renderer is supplied.
type defaultRenderer struct{}

var loginTmpl = template.Must(template.New("login").Parse(`<!doctype html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
<form method="post" action="/auth/token">
<label>Username <input name="username" autocomplete="username"></label>
<label>Password <input name="password" type="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
{{range $provider, $clientID := .Providers}}<div class="idp" data-provider="{{$provider}}" data-client-id="{{$clientID}}">Continue with {{$provider}}</div>
{{end}}</body>
</html>
`))

func (defaultRenderer) LoginPage(providers map[string]string) string {
	var b strings.Builder
	if err := loginTmpl.Execute(&b, map[string]any{"Providers": providers}); err != nil {
		return fmt.Sprintf("<html><body><h1>Sign in</h1><!-- %s --></body></html>", template.HTMLEscapeString(err.Error()))
	}
	return b.String()
}

func (defaultRenderer) ForbiddenPage() string {
	return "<!doctype html>\n<html><head><title>Forbidden</title></head><body><h1>403 Forbidden</h1><p>You do not have access to this resource.</p></body></html>\n"
}

func (defaultRenderer) NotFoundPage() string {
	return "<!doctype html>\n<html><head><title>Not Found</title></head><body><h1>404 Not Found</h1></body></html>\n"
}
