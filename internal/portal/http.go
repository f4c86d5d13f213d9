package portal

import (
	"fmt"
	"net/http"

	"github.com/internet-of-plants/iop-core/internal/hwfacade"
)

// handleSubmit implements spec.md §4.8's POST /submit: form-urlencoded
// fields ssid, password, iopEmail, iopPassword, any of which may be
// absent. Non-empty pairs are stashed into the per-request slot for the
// next Serve call to act on.
func (p *Portal) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	sub := submission{
		wifiSSID:    r.FormValue("ssid"),
		wifiPSK:     r.FormValue("password"),
		iopEmail:    r.FormValue("iopEmail"),
		iopPassword: r.FormValue("iopPassword"),
	}

	p.mu.Lock()
	p.pending = sub
	p.hasPendng = true
	p.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleForm implements spec.md §4.8's GET /*: the HTML form varies across
// four variants depending on whether WiFi is connected and whether a token
// exists.
func (p *Portal) handleForm(w http.ResponseWriter, r *http.Request) {
	connected := p.facade.StationStatus() == hwfacade.StationConnected
	_, hasToken := p.store.GetToken()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, renderForm(connected, hasToken))
}

// renderForm builds the four-variant HTML form spec.md §4.8 describes:
// "set WiFi credentials?" and "set IoP credentials?" banners, combined.
func renderForm(wifiConnected, hasToken bool) string {
	var wifiSection, iopSection string

	if wifiConnected {
		wifiSection = `<p>WiFi is connected.</p>`
	} else {
		wifiSection = `
		<fieldset>
			<legend>WiFi credentials</legend>
			<label>SSID <input type="text" name="ssid"></label>
			<label>Password <input type="password" name="password"></label>
		</fieldset>`
	}

	if hasToken {
		iopSection = `<p>Device is already registered.</p>`
	} else {
		iopSection = `
		<fieldset>
			<legend>Internet of Plants account</legend>
			<label>Email <input type="text" name="iopEmail"></label>
			<label>Password <input type="password" name="iopPassword"></label>
		</fieldset>`
	}

	return `<!DOCTYPE html>
<html>
<head><title>Internet of Plants setup</title></head>
<body>
<h1>Internet of Plants setup</h1>
<form method="POST" action="/submit">
` + wifiSection + iopSection + `
<button type="submit">Save</button>
</form>
</body>
</html>`
}
