// Package status serves the human-facing status page on /status/ and
// the detailed log export on /status/log.gz.
package status

import (
	"net/http"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"

	"github.com/trezor/bridged/core"
	"github.com/trezor/bridged/memorywriter"
)

type status struct {
	kernel  *core.Kernel
	version string
	logger  *memorywriter.MemoryWriter
}

const csrfkey = "slk0118h51w2qiw4fhrfyd84f59j81ln"

// Serve mounts the status page under r. baseURL is the origin the
// log.gz form posts from; only that origin may download the log.
func Serve(r *mux.Router, k *core.Kernel, version string, logger *memorywriter.MemoryWriter, baseURL string) {
	s := &status{
		kernel:  k,
		version: version,
		logger:  logger,
	}
	r.Methods("GET").Path("/").HandlerFunc(s.statusPage)
	r.Methods("POST").Path("/log.gz").HandlerFunc(s.statusGzip)

	r.Use(csrf.Protect([]byte(csrfkey), csrf.Secure(false)))
	r.Use(OriginCheck(map[string]string{
		"/status/":       "",
		"/status/log.gz": baseURL,
	}))
}

func (s *status) statusPage(w http.ResponseWriter, r *http.Request) {
	s.logger.Println("status - building status page")

	var pageErr error
	tdevs, err := s.statusEnumerate()
	if err != nil {
		pageErr = err
	}

	log, err := s.logger.String(s.version + "\n")
	if err != nil {
		respondError(w, err)
		return
	}

	data := &statusTemplateData{
		Version:     s.version,
		Devices:     tdevs,
		DeviceCount: len(tdevs),
		Log:         log,
		IsError:     pageErr != nil,
		CSRFField:   csrf.TemplateField(r),
	}
	if pageErr != nil {
		data.Error = pageErr.Error()
	}

	if err := statusTemplate.Execute(w, data); err != nil {
		respondError(w, err)
	}
}

func (s *status) statusGzip(w http.ResponseWriter, r *http.Request) {
	s.logger.Println("status - building gzip")

	gzip, err := s.logger.Gzip(s.version + "\n")
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	if _, err := w.Write(gzip); err != nil {
		s.logger.Println("status - log.gz write: " + err.Error())
	}
}

func (s *status) statusEnumerate() ([]statusTemplateDevice, error) {
	entries, err := s.kernel.Enumerate()
	if err != nil {
		s.logger.Println("status - enumerate: " + err.Error())
		return nil, err
	}

	tdevs := make([]statusTemplateDevice, 0, len(entries))
	for _, entry := range entries {
		tdev := statusTemplateDevice{
			Path:    entry.Path,
			Vendor:  entry.Vendor,
			Product: entry.Product,
			Used:    entry.Session != nil,
		}
		if entry.Session != nil {
			tdev.Session = *entry.Session
		}
		tdevs = append(tdevs, tdev)
	}
	return tdevs, nil
}

func respondError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}
