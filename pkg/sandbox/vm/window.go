package vm

import (
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"manifest-extractor-go/pkg/config"
	"manifest-extractor-go/pkg/sandbox"
)

// windowTarget is the listener key for the global object.
type windowTarget struct{}

// installGlobals makes the global object look enough like a browser window
// for typical player pages.
func (s *Session) installGlobals(g *goja.Object) error {
	rt := s.rt

	for _, name := range []string{"window", "self", "top", "parent", "frames", "globalThis"} {
		if err := g.Set(name, g); err != nil {
			return err
		}
	}
	g.Set("document", s.wrap(s.doc))
	g.Set("location", s.location())
	g.Set("navigator", s.navigator())
	g.Set("screen", map[string]any{
		"width": 1920, "height": 1080, "availWidth": 1920, "availHeight": 1040,
		"colorDepth": 24, "pixelDepth": 24,
	})
	g.Set("innerWidth", 1920)
	g.Set("innerHeight", 1080)
	g.Set("outerWidth", 1920)
	g.Set("outerHeight", 1080)
	g.Set("devicePixelRatio", 1)
	g.Set("scrollX", 0)
	g.Set("scrollY", 0)
	g.Set("pageXOffset", 0)
	g.Set("pageYOffset", 0)
	g.Set("name", "")
	g.Set("closed", false)
	g.Set("localStorage", rt.NewDynamicObject(newStorage(rt)))
	g.Set("sessionStorage", rt.NewDynamicObject(newStorage(rt)))
	g.Set("history", map[string]any{
		"length":       1,
		"state":        nil,
		"pushState":    func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"replaceState": func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"back":         func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"forward":      func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		"go":           func(goja.FunctionCall) goja.Value { return goja.Undefined() },
	})
	g.Set("performance", map[string]any{
		"now": func(goja.FunctionCall) goja.Value {
			return rt.ToValue(float64(s.clock.now) / float64(time.Millisecond))
		},
		"timeOrigin": 0,
	})

	g.Set("atob", func(call goja.FunctionCall) goja.Value {
		in := strings.Map(func(r rune) rune {
			if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' {
				return -1
			}
			return r
		}, call.Argument(0).String())
		in = strings.TrimRight(in, "=")
		raw, err := base64.RawStdEncoding.DecodeString(in)
		if err != nil {
			s.throw("atob: the string to be decoded is not correctly encoded")
		}
		return rt.ToValue(latin1Decode(raw))
	})
	g.Set("btoa", func(call goja.FunctionCall) goja.Value {
		raw, ok := latin1Encode(call.Argument(0).String())
		if !ok {
			s.throw("btoa: string contains characters outside of the Latin1 range")
		}
		return rt.ToValue(base64.StdEncoding.EncodeToString(raw))
	})

	g.Set("matchMedia", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(map[string]any{
			"matches":        false,
			"media":          call.Argument(0).String(),
			"addListener":    func(goja.FunctionCall) goja.Value { return goja.Undefined() },
			"removeListener": func(goja.FunctionCall) goja.Value { return goja.Undefined() },
		})
	})
	g.Set("getComputedStyle", func(call goja.FunctionCall) goja.Value {
		style := rt.NewObject()
		style.Set("getPropertyValue", func(goja.FunctionCall) goja.Value { return rt.ToValue("") })
		return style
	})
	for _, name := range []string{"alert", "focus", "blur", "scrollTo", "scrollBy", "scroll", "postMessage", "print", "stop"} {
		g.Set(name, func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	}
	g.Set("confirm", func(goja.FunctionCall) goja.Value { return rt.ToValue(false) })
	g.Set("prompt", func(goja.FunctionCall) goja.Value { return goja.Null() })
	g.Set("open", func(goja.FunctionCall) goja.Value { return goja.Null() })

	g.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		s.addListener(windowTarget{}, call.Argument(0).String(), call.Argument(1))
		return goja.Undefined()
	})
	g.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		s.removeListener(windowTarget{}, call.Argument(0).String(), call.Argument(1))
		return goja.Undefined()
	})
	g.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		if ev, ok := call.Argument(0).(*goja.Object); ok {
			s.dispatchEvent(windowTarget{}, g, ev)
		}
		return rt.ToValue(true)
	})

	g.Set(sandbox.CaptureBinding, func(call goja.FunctionCall) goja.Value {
		s.capture.Set(call.Argument(0).String())
		return goja.Undefined()
	})

	s.installTimers(g)
	return nil
}

func (s *Session) location() *goja.Object {
	rt := s.rt
	loc := rt.NewObject()
	u, err := url.Parse(s.baseURL)
	if err != nil {
		u = &url.URL{}
	}

	port := u.Port()
	origin := ""
	if u.Scheme != "" && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	hash := ""
	if u.Fragment != "" {
		hash = "#" + u.Fragment
	}

	loc.Set("href", s.baseURL)
	loc.Set("protocol", u.Scheme+":")
	loc.Set("host", u.Host)
	loc.Set("hostname", u.Hostname())
	loc.Set("port", port)
	loc.Set("pathname", u.EscapedPath())
	loc.Set("search", search)
	loc.Set("hash", hash)
	loc.Set("origin", origin)
	loc.Set("toString", func(goja.FunctionCall) goja.Value { return rt.ToValue(s.baseURL) })
	for _, name := range []string{"assign", "replace", "reload"} {
		loc.Set(name, func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	}
	return loc
}

func (s *Session) navigator() map[string]any {
	ua := s.opts.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	return map[string]any{
		"userAgent":           ua,
		"appName":             "Netscape",
		"appVersion":          strings.TrimPrefix(ua, "Mozilla/"),
		"platform":            "Win32",
		"vendor":              "Google Inc.",
		"language":            "en-US",
		"languages":           []string{"en-US", "en"},
		"onLine":              true,
		"cookieEnabled":       true,
		"webdriver":           false,
		"hardwareConcurrency": 8,
		"maxTouchPoints":      0,
		"plugins":             []any{},
		"mimeTypes":           []any{},
	}
}

func (s *Session) addListener(target any, typ string, fn goja.Value) {
	if _, ok := goja.AssertFunction(fn); !ok {
		return
	}
	byType := s.listeners[target]
	if byType == nil {
		byType = make(map[string][]goja.Value)
		s.listeners[target] = byType
	}
	for _, existing := range byType[typ] {
		if existing.SameAs(fn) {
			return
		}
	}
	byType[typ] = append(byType[typ], fn)
}

func (s *Session) removeListener(target any, typ string, fn goja.Value) {
	list := s.listeners[target][typ]
	for i, existing := range list {
		if existing.SameAs(fn) {
			s.listeners[target][typ] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (s *Session) newEvent(typ string) *goja.Object {
	ctor := s.rt.Get("Event")
	if ctor != nil {
		if ev, err := s.rt.New(ctor, s.rt.ToValue(typ)); err == nil {
			return ev
		}
	}
	ev := s.rt.NewObject()
	ev.Set("type", typ)
	return ev
}

// dispatch fires a fresh event of typ at target. Listener errors are
// absorbed so one broken handler cannot stop the page.
func (s *Session) dispatch(target any, this goja.Value, typ string) {
	if s.broken || s.closed {
		return
	}
	var ev *goja.Object
	err := s.run("event", func() error {
		ev = s.newEvent(typ)
		return nil
	})
	if err != nil {
		s.absorb("event", err)
		return
	}
	s.dispatchEvent(target, this, ev)
}

func (s *Session) dispatchEvent(target any, this goja.Value, ev *goja.Object) {
	t := ev.Get("type")
	if t == nil {
		return
	}
	typ := t.String()
	handlers := append([]goja.Value(nil), s.listeners[target][typ]...)
	if h := s.inlineHandler(target, typ); h != nil {
		handlers = append(handlers, h)
	}
	if len(handlers) == 0 {
		return
	}

	ev.Set("target", this)
	ev.Set("currentTarget", this)
	for _, h := range handlers {
		fn, ok := goja.AssertFunction(h)
		if !ok {
			continue
		}
		err := s.run("event", func() error {
			_, err := fn(this, ev)
			return err
		})
		if err != nil {
			s.absorb("event", err)
		}
		if s.broken || s.closed {
			return
		}
	}
}

// inlineHandler returns an on<type> property handler for target.
func (s *Session) inlineHandler(target any, typ string) goja.Value {
	var v goja.Value
	switch t := target.(type) {
	case windowTarget:
		v = s.rt.GlobalObject().Get("on" + typ)
	case *html.Node:
		if w, ok := s.nodes[t]; ok {
			v = w.props["on"+typ]
		}
	}
	if _, ok := goja.AssertFunction(v); !ok {
		return nil
	}
	return v
}

// cookieJar backs document.cookie for the lifetime of one session.
type cookieJar struct {
	values map[string]string
	order  []string
}

func newCookieJar() *cookieJar {
	return &cookieJar{values: make(map[string]string)}
}

func (j *cookieJar) set(raw string) {
	pair, _, _ := strings.Cut(raw, ";")
	name, value, ok := strings.Cut(pair, "=")
	if !ok {
		name, value = "", pair
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	expired := false
	for _, part := range strings.Split(raw, ";")[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch strings.ToLower(k) {
		case "max-age":
			expired = strings.HasPrefix(strings.TrimSpace(v), "-") || strings.TrimSpace(v) == "0"
		case "expires":
			if t, err := time.Parse(time.RFC1123, strings.TrimSpace(v)); err == nil && t.Before(time.Now()) {
				expired = true
			}
		}
	}

	if expired {
		if _, ok := j.values[name]; ok {
			delete(j.values, name)
			for i, n := range j.order {
				if n == name {
					j.order = append(j.order[:i], j.order[i+1:]...)
					break
				}
			}
		}
		return
	}
	if _, ok := j.values[name]; !ok {
		j.order = append(j.order, name)
	}
	j.values[name] = value
}

func (j *cookieJar) String() string {
	parts := make([]string, 0, len(j.order))
	for _, name := range j.order {
		if name == "" {
			parts = append(parts, j.values[name])
			continue
		}
		parts = append(parts, name+"="+j.values[name])
	}
	return strings.Join(parts, "; ")
}

// storage is an in-memory Web Storage object.
type storage struct {
	rt      *goja.Runtime
	data    map[string]string
	methods map[string]goja.Value
}

func newStorage(rt *goja.Runtime) *storage {
	st := &storage{rt: rt, data: make(map[string]string)}
	st.methods = map[string]goja.Value{
		"getItem": rt.ToValue(func(call goja.FunctionCall) goja.Value {
			if v, ok := st.data[call.Argument(0).String()]; ok {
				return rt.ToValue(v)
			}
			return goja.Null()
		}),
		"setItem": rt.ToValue(func(call goja.FunctionCall) goja.Value {
			st.data[call.Argument(0).String()] = call.Argument(1).String()
			return goja.Undefined()
		}),
		"removeItem": rt.ToValue(func(call goja.FunctionCall) goja.Value {
			delete(st.data, call.Argument(0).String())
			return goja.Undefined()
		}),
		"clear": rt.ToValue(func(goja.FunctionCall) goja.Value {
			clear(st.data)
			return goja.Undefined()
		}),
		"key": rt.ToValue(func(call goja.FunctionCall) goja.Value {
			keys := st.Keys()
			i := int(toInt(call.Argument(0)))
			if i < 0 || i >= len(keys) {
				return goja.Null()
			}
			return rt.ToValue(keys[i])
		}),
	}
	return st
}

func (st *storage) Get(key string) goja.Value {
	if key == "length" {
		return st.rt.ToValue(len(st.data))
	}
	if fn, ok := st.methods[key]; ok {
		return fn
	}
	if v, ok := st.data[key]; ok {
		return st.rt.ToValue(v)
	}
	return nil
}

func (st *storage) Set(key string, val goja.Value) bool {
	st.data[key] = val.String()
	return true
}

func (st *storage) Has(key string) bool {
	_, ok := st.data[key]
	return ok
}

func (st *storage) Delete(key string) bool {
	delete(st.data, key)
	return true
}

func (st *storage) Keys() []string {
	keys := make([]string, 0, len(st.data))
	for k := range st.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func latin1Decode(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

func latin1Encode(str string) ([]byte, bool) {
	out := make([]byte, 0, len(str))
	for _, r := range str {
		if r > 0xff {
			return nil, false
		}
		out = append(out, byte(r))
	}
	return out, true
}
