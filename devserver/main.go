// Command devserver serves a directory of .msd files as converted MIDI for
// previewing in a browser player, reconverting as the files change on disk.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"moria.us/msd2mid/msd"
)

const (
	htmlType = "text/html; charset=UTF-8"
	midiType = "audio/midi"
)

type server struct {
	lib   *library
	style msd.LoopStyle
}

func logResponse(r *http.Request, status int, msg string) {
	if status >= 400 {
		if msg == "" {
			msg = http.StatusText(status)
		}
		logrus.Errorln(status, r.URL, msg)
	} else if msg == "" {
		logrus.Infoln(status, r.URL)
	} else {
		logrus.Infoln(status, r.URL, msg)
	}
}

func (s *server) serveError(w http.ResponseWriter, r *http.Request, a ...interface{}) {
	const status = http.StatusInternalServerError
	msg := fmt.Sprint(a...)
	logResponse(r, status, msg)
	http.Error(w, msg, status)
}

func (s *server) serveNotFound(w http.ResponseWriter, r *http.Request) {
	logResponse(r, http.StatusNotFound, "")
	http.Error(w, fmt.Sprintf("Page not found: %q", r.URL), http.StatusNotFound)
}

func (s *server) serveIndex(w http.ResponseWriter, r *http.Request) {
	st := s.lib.getState(r.Context())
	if st == nil {
		return
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<title>MSD preview</title>\n<h1>Songs</h1>\n")
	if st.err != nil {
		fmt.Fprintf(&b, "<p>scan failed: %s</p>\n", st.err)
	}
	b.WriteString("<ul>\n")
	for _, name := range st.songs {
		fmt.Fprintf(&b, "<li><a href=\"/midi/%s\">%s</a></li>\n", name, name)
	}
	b.WriteString("</ul>\n")
	logResponse(r, http.StatusOK, "")
	hdr := w.Header()
	hdr.Set("Content-Type", htmlType)
	hdr.Set("Content-Length", strconv.Itoa(b.Len()))
	hdr.Set("Cache-Control", "no-cache")
	w.Write([]byte(b.String()))
}

var safeName = regexp.MustCompile("^[a-zA-Z0-9][-._a-zA-Z0-9]*$")

func (s *server) serveMIDI(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !safeName.MatchString(name) {
		s.serveNotFound(w, r)
		return
	}
	style := s.style
	switch r.URL.Query().Get("loop") {
	case "", "default":
	case "meta":
		style = msd.LoopMarkerMeta
	case "cc111":
		style = msd.LoopMarkerController
	default:
		s.serveNotFound(w, r)
		return
	}
	data, err := s.lib.convert(name, style)
	if err != nil {
		if os.IsNotExist(err) {
			s.serveNotFound(w, r)
		} else {
			s.serveError(w, r, err)
		}
		return
	}
	logResponse(r, http.StatusOK, "")
	hdr := w.Header()
	hdr.Set("Content-Type", midiType)
	hdr.Set("Content-Length", strconv.Itoa(len(data)))
	hdr.Set("Cache-Control", "no-cache")
	w.Write(data)
}

func mainE() error {
	fHost := pflag.String("host", "localhost", "host to serve from, or * to bind to all local addresses")
	fPort := pflag.Int("port", 9014, "port to serve from")
	fDir := pflag.String("dir", ".", "directory of .msd files to serve")
	fLoop := pflag.String("loop", "meta", "default loop marker style: meta or cc111")
	pflag.Parse()
	if args := pflag.Args(); len(args) != 0 {
		return fmt.Errorf("unexpected argument: %q", args[0])
	}

	var style msd.LoopStyle
	switch *fLoop {
	case "meta":
		style = msd.LoopMarkerMeta
	case "cc111":
		style = msd.LoopMarkerController
	default:
		return fmt.Errorf("unknown loop style %q (use meta or cc111)", *fLoop)
	}
	dir, err := filepath.Abs(*fDir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	log := logrus.StandardLogger()
	host := *fHost
	var addrs []net.IPAddr
	if host == "*" {
		addrs = []net.IPAddr{{IP: net.IPv6zero}}
		host = "localhost"
	} else {
		rslv := net.DefaultResolver
		addrs, err = rslv.LookupIPAddr(ctx, host)
		if err != nil {
			return fmt.Errorf("could not look up host: %v", err)
		}
		if host == "" {
			host = "localhost"
		}
	}

	s := &server{lib: newLibrary(dir), style: style}
	go s.lib.watch(ctx)

	mx := chi.NewMux()
	mx.Get("/", s.serveIndex)
	mx.Get("/midi/{name}", s.serveMIDI)
	mx.Get("/socket", s.serveSocket)
	mx.NotFound(s.serveNotFound)
	hs := http.Server{
		Handler:     mx,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	var root *url.URL
	for _, addr := range addrs {
		ta := net.TCPAddr{
			IP:   addr.IP,
			Zone: addr.Zone,
			Port: *fPort,
		}
		l, err := net.ListenTCP("tcp", &ta)
		if err != nil {
			return err
		}
		if root == nil {
			root = &url.URL{
				Scheme: "http",
				Host:   net.JoinHostPort(host, strconv.Itoa(*fPort)),
				Path:   "/",
			}
			log.Infoln("Serving", dir, "on:", root)
		}
		go func(l *net.TCPListener) {
			err := hs.Serve(l)
			log.Fatalln("serve:", err)
		}(l)
	}
	if root == nil {
		return errors.New("no address to serve on")
	}
	select {}
}

func main() {
	if err := mainE(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
