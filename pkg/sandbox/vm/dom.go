package vm

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"manifest-extractor-go/pkg/urlutil"
)

// node exposes an html.Node to scripts as a goja dynamic object. Wrappers
// are cached per node so identity comparisons hold in JS.
type node struct {
	s       *Session
	n       *html.Node
	obj     *goja.Object
	props   map[string]goja.Value
	methods map[string]goja.Value
}

func (s *Session) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if w, ok := s.nodes[n]; ok {
		return w.obj
	}
	w := &node{
		s:       s,
		n:       n,
		props:   make(map[string]goja.Value),
		methods: make(map[string]goja.Value),
	}
	w.obj = s.rt.NewDynamicObject(w)
	s.nodes[n] = w
	s.objs[w.obj] = n
	return w.obj
}

func (s *Session) unwrap(v goja.Value) *html.Node {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return s.objs[obj]
}

func (s *Session) wrapAll(nodes []*html.Node) goja.Value {
	items := make([]any, len(nodes))
	for i, n := range nodes {
		items[i] = s.wrap(n)
	}
	return s.rt.NewArray(items...)
}

func (s *Session) throw(msg string) {
	panic(s.rt.NewTypeError(msg))
}

// Get implements goja.DynamicObject.
func (w *node) Get(key string) goja.Value {
	if v := w.property(key); v != nil {
		return v
	}
	if v, ok := w.props[key]; ok {
		return v
	}
	if fn, ok := w.methods[key]; ok {
		return fn
	}
	if fn := w.method(key); fn != nil {
		v := w.s.rt.ToValue(fn)
		w.methods[key] = v
		return v
	}
	return nil
}

// Set implements goja.DynamicObject.
func (w *node) Set(key string, val goja.Value) bool {
	n := w.n
	if n.Type == html.ElementNode {
		switch key {
		case "innerHTML":
			w.s.setInnerHTML(n, val.String())
			return true
		case "textContent", "innerText", "text":
			setTextContent(n, val.String())
			return true
		case "className":
			setAttr(n, "class", val.String())
			return true
		case "id", "src", "href", "type", "name", "value", "title", "rel", "async", "defer", "charset", "crossOrigin":
			setAttr(n, strings.ToLower(key), val.String())
			return true
		}
	}
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		switch key {
		case "data", "nodeValue", "textContent":
			n.Data = val.String()
			return true
		}
	}
	if n.Type == html.DocumentNode {
		switch key {
		case "cookie":
			w.s.cookies.set(val.String())
			return true
		case "title":
			if t := findFirst(n, "title"); t != nil {
				setTextContent(t, val.String())
				return true
			}
		}
	}
	w.props[key] = val
	return true
}

// Has implements goja.DynamicObject.
func (w *node) Has(key string) bool {
	return w.Get(key) != nil
}

// Delete implements goja.DynamicObject.
func (w *node) Delete(key string) bool {
	delete(w.props, key)
	return true
}

// Keys implements goja.DynamicObject.
func (w *node) Keys() []string {
	keys := make([]string, 0, len(w.props))
	for k := range w.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (w *node) property(key string) goja.Value {
	s, n := w.s, w.n
	rt := s.rt

	switch key {
	case "nodeType":
		return rt.ToValue(s.nodeType(n))
	case "nodeName":
		return rt.ToValue(s.nodeName(n))
	case "parentNode":
		return s.wrap(n.Parent)
	case "parentElement":
		if n.Parent != nil && n.Parent.Type == html.ElementNode {
			return s.wrap(n.Parent)
		}
		return goja.Null()
	case "firstChild":
		return s.wrap(n.FirstChild)
	case "lastChild":
		return s.wrap(n.LastChild)
	case "nextSibling":
		return s.wrap(n.NextSibling)
	case "previousSibling":
		return s.wrap(n.PrevSibling)
	case "childNodes":
		return s.wrapAll(children(n, false))
	case "children":
		return s.wrapAll(children(n, true))
	case "firstElementChild":
		if c := children(n, true); len(c) > 0 {
			return s.wrap(c[0])
		}
		return goja.Null()
	case "childElementCount":
		return rt.ToValue(len(children(n, true)))
	case "ownerDocument":
		if n.Type == html.DocumentNode {
			return goja.Null()
		}
		return s.wrap(s.doc)
	case "isConnected":
		return rt.ToValue(s.connected(n))
	}

	switch n.Type {
	case html.DocumentNode:
		return w.documentProperty(key)
	case html.ElementNode:
		return w.elementProperty(key)
	case html.TextNode, html.CommentNode:
		switch key {
		case "data", "nodeValue", "textContent", "wholeText":
			return rt.ToValue(n.Data)
		case "length":
			return rt.ToValue(len(n.Data))
		}
	}
	return nil
}

func (w *node) documentProperty(key string) goja.Value {
	s, n := w.s, w.n
	rt := s.rt

	if s.fragments[n] {
		if key == "textContent" {
			return rt.ToValue(textContent(n))
		}
		return nil
	}

	switch key {
	case "documentElement":
		return s.wrap(documentElement(n))
	case "head":
		return s.wrap(findFirst(n, "head"))
	case "body":
		return s.wrap(findFirst(n, "body"))
	case "title":
		if t := findFirst(n, "title"); t != nil {
			return rt.ToValue(strings.TrimSpace(textContent(t)))
		}
		return rt.ToValue("")
	case "readyState":
		return rt.ToValue(s.readyState)
	case "cookie":
		return rt.ToValue(s.cookies.String())
	case "currentScript":
		return s.wrap(s.currentScript)
	case "location":
		return rt.GlobalObject().Get("location")
	case "URL", "documentURI", "baseURI":
		return rt.ToValue(s.baseURL)
	case "domain":
		return rt.ToValue(urlutil.Hostname(s.baseURL))
	case "referrer":
		return rt.ToValue("")
	case "defaultView":
		return rt.GlobalObject()
	case "characterSet", "charset":
		return rt.ToValue("UTF-8")
	case "compatMode":
		return rt.ToValue("CSS1Compat")
	case "contentType":
		return rt.ToValue("text/html")
	case "visibilityState":
		return rt.ToValue("visible")
	case "hidden":
		return rt.ToValue(false)
	case "scripts":
		return s.wrapAll(findAll(n, "script"))
	case "textContent":
		return goja.Null()
	}
	return nil
}

func (w *node) elementProperty(key string) goja.Value {
	s, n := w.s, w.n
	rt := s.rt

	switch key {
	case "tagName":
		return rt.ToValue(strings.ToUpper(n.Data))
	case "localName":
		return rt.ToValue(n.Data)
	case "id", "type", "name", "value", "title", "rel", "charset":
		v, _ := attr(n, key)
		return rt.ToValue(v)
	case "className":
		v, _ := attr(n, "class")
		return rt.ToValue(v)
	case "src", "href":
		v, ok := attr(n, key)
		if !ok {
			return rt.ToValue("")
		}
		return rt.ToValue(urlutil.ResolveURL(v, s.baseURL))
	case "async", "defer", "hidden", "disabled":
		_, ok := attr(n, key)
		return rt.ToValue(ok)
	case "innerHTML":
		return rt.ToValue(innerHTML(n))
	case "outerHTML":
		return rt.ToValue(render(n))
	case "textContent", "innerText", "text":
		return rt.ToValue(textContent(n))
	case "attributes":
		items := make([]any, 0, len(n.Attr))
		for _, a := range n.Attr {
			items = append(items, map[string]any{"name": a.Key, "value": a.Val})
		}
		return rt.NewArray(items...)
	case "style":
		if v, ok := w.props["style"]; ok {
			return v
		}
		style := rt.NewObject()
		w.props["style"] = style
		return style
	case "dataset":
		data := rt.NewObject()
		for _, a := range n.Attr {
			if name, ok := strings.CutPrefix(a.Key, "data-"); ok {
				data.Set(camelCase(name), a.Val)
			}
		}
		return data
	case "classList":
		return s.classList(n)
	case "offsetWidth", "offsetHeight", "clientWidth", "clientHeight", "scrollTop", "scrollLeft":
		return rt.ToValue(0)
	}
	return nil
}

func (w *node) method(key string) func(goja.FunctionCall) goja.Value {
	s, n := w.s, w.n
	rt := s.rt
	self := func() goja.Value { return w.obj }
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }

	switch key {
	case "appendChild":
		return func(call goja.FunctionCall) goja.Value {
			child := s.argNode(call.Argument(0))
			s.insert(n, child, nil)
			return call.Argument(0)
		}
	case "insertBefore":
		return func(call goja.FunctionCall) goja.Value {
			child := s.argNode(call.Argument(0))
			var ref *html.Node
			if v := call.Argument(1); !goja.IsNull(v) && !goja.IsUndefined(v) {
				ref = s.argNode(v)
				if ref.Parent != n {
					s.throw("insertBefore: reference node is not a child")
				}
			}
			s.insert(n, child, ref)
			return call.Argument(0)
		}
	case "removeChild":
		return func(call goja.FunctionCall) goja.Value {
			child := s.argNode(call.Argument(0))
			if child.Parent != n {
				s.throw("removeChild: node is not a child")
			}
			n.RemoveChild(child)
			return call.Argument(0)
		}
	case "replaceChild":
		return func(call goja.FunctionCall) goja.Value {
			repl, old := s.argNode(call.Argument(0)), s.argNode(call.Argument(1))
			if old.Parent != n {
				s.throw("replaceChild: node is not a child")
			}
			next := old.NextSibling
			n.RemoveChild(old)
			s.insert(n, repl, next)
			return call.Argument(1)
		}
	case "append", "prepend":
		return func(call goja.FunctionCall) goja.Value {
			var ref *html.Node
			if key == "prepend" {
				ref = n.FirstChild
			}
			for _, arg := range call.Arguments {
				child := s.unwrap(arg)
				if child == nil {
					child = &html.Node{Type: html.TextNode, Data: arg.String()}
				}
				s.insert(n, child, ref)
			}
			return goja.Undefined()
		}
	case "contains":
		return func(call goja.FunctionCall) goja.Value {
			other := s.unwrap(call.Argument(0))
			return rt.ToValue(other != nil && contains(n, other))
		}
	case "hasChildNodes":
		return func(goja.FunctionCall) goja.Value { return rt.ToValue(n.FirstChild != nil) }
	case "cloneNode":
		return func(call goja.FunctionCall) goja.Value {
			c := cloneNode(n, call.Argument(0).ToBoolean())
			if s.fragments[n] {
				s.fragments[c] = true
			}
			return s.wrap(c)
		}
	case "addEventListener":
		return func(call goja.FunctionCall) goja.Value {
			s.addListener(n, call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		}
	case "removeEventListener":
		return func(call goja.FunctionCall) goja.Value {
			s.removeListener(n, call.Argument(0).String(), call.Argument(1))
			return goja.Undefined()
		}
	case "dispatchEvent":
		return func(call goja.FunctionCall) goja.Value {
			if ev, ok := call.Argument(0).(*goja.Object); ok {
				s.dispatchEvent(n, self(), ev)
			}
			return rt.ToValue(true)
		}
	case "querySelector":
		return func(call goja.FunctionCall) goja.Value {
			found := query(n, call.Argument(0).String())
			if len(found) == 0 {
				return goja.Null()
			}
			return s.wrap(found[0])
		}
	case "querySelectorAll":
		return func(call goja.FunctionCall) goja.Value {
			return s.wrapAll(query(n, call.Argument(0).String()))
		}
	case "getElementsByTagName":
		return func(call goja.FunctionCall) goja.Value {
			return s.wrapAll(findAll(n, strings.ToLower(call.Argument(0).String())))
		}
	case "getElementsByClassName":
		return func(call goja.FunctionCall) goja.Value {
			return s.wrapAll(findByClass(n, strings.Fields(call.Argument(0).String())))
		}
	}

	if n.Type == html.ElementNode {
		switch key {
		case "getAttribute":
			return func(call goja.FunctionCall) goja.Value {
				if v, ok := attr(n, strings.ToLower(call.Argument(0).String())); ok {
					return rt.ToValue(v)
				}
				return goja.Null()
			}
		case "setAttribute":
			return func(call goja.FunctionCall) goja.Value {
				setAttr(n, strings.ToLower(call.Argument(0).String()), call.Argument(1).String())
				return goja.Undefined()
			}
		case "removeAttribute":
			return func(call goja.FunctionCall) goja.Value {
				removeAttr(n, strings.ToLower(call.Argument(0).String()))
				return goja.Undefined()
			}
		case "hasAttribute":
			return func(call goja.FunctionCall) goja.Value {
				_, ok := attr(n, strings.ToLower(call.Argument(0).String()))
				return rt.ToValue(ok)
			}
		case "remove":
			return func(goja.FunctionCall) goja.Value {
				if n.Parent != nil {
					n.Parent.RemoveChild(n)
				}
				return goja.Undefined()
			}
		case "insertAdjacentHTML":
			return func(call goja.FunctionCall) goja.Value {
				s.insertAdjacentHTML(n, strings.ToLower(call.Argument(0).String()), call.Argument(1).String())
				return goja.Undefined()
			}
		case "getBoundingClientRect":
			return func(goja.FunctionCall) goja.Value {
				return rt.ToValue(map[string]any{"top": 0, "left": 0, "right": 0, "bottom": 0, "width": 0, "height": 0, "x": 0, "y": 0})
			}
		case "focus", "blur", "click", "scrollIntoView", "requestFullscreen":
			return noop
		}
	}

	if n.Type == html.DocumentNode && !s.fragments[n] {
		switch key {
		case "getElementById":
			return func(call goja.FunctionCall) goja.Value {
				return s.wrap(findByID(n, call.Argument(0).String()))
			}
		case "getElementsByName":
			return func(call goja.FunctionCall) goja.Value {
				name := call.Argument(0).String()
				var out []*html.Node
				walk(n, func(c *html.Node) bool {
					if v, ok := attr(c, "name"); ok && c.Type == html.ElementNode && v == name {
						out = append(out, c)
					}
					return true
				})
				return s.wrapAll(out)
			}
		case "createElement":
			return func(call goja.FunctionCall) goja.Value {
				return s.wrap(newElement(call.Argument(0).String()))
			}
		case "createTextNode":
			return func(call goja.FunctionCall) goja.Value {
				return s.wrap(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
			}
		case "createComment":
			return func(call goja.FunctionCall) goja.Value {
				return s.wrap(&html.Node{Type: html.CommentNode, Data: call.Argument(0).String()})
			}
		case "createDocumentFragment":
			return func(goja.FunctionCall) goja.Value {
				frag := &html.Node{Type: html.DocumentNode}
				s.fragments[frag] = true
				return s.wrap(frag)
			}
		case "createEvent":
			return func(goja.FunctionCall) goja.Value {
				return s.newEvent("")
			}
		case "write", "writeln":
			return func(call goja.FunctionCall) goja.Value {
				var b strings.Builder
				for _, arg := range call.Arguments {
					b.WriteString(arg.String())
				}
				if key == "writeln" {
					b.WriteString("\n")
				}
				s.write(b.String())
				return goja.Undefined()
			}
		case "hasFocus":
			return func(goja.FunctionCall) goja.Value { return rt.ToValue(false) }
		case "open", "close":
			return noop
		}
	}

	return nil
}

func (s *Session) argNode(v goja.Value) *html.Node {
	n := s.unwrap(v)
	if n == nil {
		s.throw("argument is not a node")
	}
	return n
}

// insert places child under parent before ref (append when ref is nil).
// Fragments are emptied into parent. Newly connected scripts are queued.
func (s *Session) insert(parent, child, ref *html.Node) {
	if child == ref {
		return
	}
	if contains(child, parent) {
		s.throw("HierarchyRequestError: cannot insert a node into itself")
	}

	if s.fragments[child] {
		for c := child.FirstChild; c != nil; {
			next := c.NextSibling
			child.RemoveChild(c)
			parent.InsertBefore(c, ref)
			s.queueScripts(c)
			c = next
		}
		return
	}

	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.InsertBefore(child, ref)
	s.queueScripts(child)
}

// queueScripts queues every not-yet-started script under root once root is
// part of the document.
func (s *Session) queueScripts(root *html.Node) {
	if !s.connected(root) {
		return
	}
	walk(root, func(n *html.Node) bool {
		if isElement(n, "script") && !s.started[n] {
			s.started[n] = true
			s.pending = append(s.pending, n)
		}
		return true
	})
}

// setInnerHTML replaces the children of n. Scripts inserted this way never
// run, matching browsers.
func (s *Session) setInnerHTML(n *html.Node, markup string) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext(n))
	if err != nil {
		s.throw("innerHTML: " + err.Error())
	}
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
	for _, c := range nodes {
		walk(c, func(x *html.Node) bool {
			if isElement(x, "script") {
				s.started[x] = true
			}
			return true
		})
		n.AppendChild(c)
	}
}

func (s *Session) insertAdjacentHTML(n *html.Node, position, markup string) {
	ctx := n
	if position == "beforebegin" || position == "afterend" {
		if n.Parent == nil {
			return
		}
		ctx = n.Parent
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext(ctx))
	if err != nil {
		return
	}

	for _, c := range nodes {
		switch position {
		case "beforebegin":
			n.Parent.InsertBefore(c, n)
		case "afterbegin":
			n.InsertBefore(c, n.FirstChild)
		case "beforeend":
			n.AppendChild(c)
		case "afterend":
			n.Parent.InsertBefore(c, n.NextSibling)
			n = c
		default:
			return
		}
		s.queueScripts(c)
	}
}

// write inserts markup after the running script. Scripts it contains run
// right after the current one while the page is loading, later otherwise.
func (s *Session) write(markup string) {
	var parent *html.Node
	anchor := s.writeAfter
	if anchor != nil {
		parent = anchor.Parent
	}
	if parent == nil {
		if parent = findFirst(s.doc, "body"); parent == nil {
			return
		}
		anchor = parent.LastChild
	}

	nodes, err := html.ParseFragment(strings.NewReader(markup), fragmentContext(parent))
	if err != nil {
		return
	}

	var scripts []*html.Node
	for _, c := range nodes {
		var next *html.Node
		if anchor != nil {
			next = anchor.NextSibling
		} else {
			next = parent.FirstChild
		}
		parent.InsertBefore(c, next)
		anchor = c

		walk(c, func(x *html.Node) bool {
			if isElement(x, "script") && !s.started[x] {
				s.started[x] = true
				scripts = append(scripts, x)
			}
			return true
		})
	}
	if s.writeAfter != nil {
		s.writeAfter = anchor
	}

	if s.loading {
		s.queue = append(scripts, s.queue...)
	} else {
		s.pending = append(s.pending, scripts...)
	}
}

func (s *Session) classList(n *html.Node) goja.Value {
	rt := s.rt
	list := rt.NewObject()
	classes := func() []string {
		v, _ := attr(n, "class")
		return strings.Fields(v)
	}
	store := func(c []string) { setAttr(n, "class", strings.Join(c, " ")) }
	has := func(name string) bool {
		for _, c := range classes() {
			if c == name {
				return true
			}
		}
		return false
	}

	list.Set("contains", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(has(call.Argument(0).String()))
	})
	list.Set("add", func(call goja.FunctionCall) goja.Value {
		c := classes()
		for _, arg := range call.Arguments {
			if name := arg.String(); !has(name) {
				c = append(c, name)
				store(c)
			}
		}
		return goja.Undefined()
	})
	list.Set("remove", func(call goja.FunctionCall) goja.Value {
		drop := make(map[string]bool)
		for _, arg := range call.Arguments {
			drop[arg.String()] = true
		}
		var kept []string
		for _, c := range classes() {
			if !drop[c] {
				kept = append(kept, c)
			}
		}
		store(kept)
		return goja.Undefined()
	})
	list.Set("toggle", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if has(name) {
			var kept []string
			for _, c := range classes() {
				if c != name {
					kept = append(kept, c)
				}
			}
			store(kept)
			return rt.ToValue(false)
		}
		store(append(classes(), name))
		return rt.ToValue(true)
	})
	list.Set("length", len(classes()))
	return list
}

func (s *Session) nodeType(n *html.Node) int {
	switch n.Type {
	case html.ElementNode:
		return 1
	case html.TextNode:
		return 3
	case html.CommentNode:
		return 8
	case html.DoctypeNode:
		return 10
	case html.DocumentNode:
		if s.fragments[n] {
			return 11
		}
		return 9
	}
	return 0
}

func (s *Session) nodeName(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		return strings.ToUpper(n.Data)
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		if s.fragments[n] {
			return "#document-fragment"
		}
		return "#document"
	}
	return n.Data
}

func (s *Session) connected(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == s.doc {
			return true
		}
	}
	return false
}

func newElement(tag string) *html.Node {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
}

// fragmentContext returns an element suitable as html.ParseFragment context.
func fragmentContext(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		return n
	}
	return newElement("body")
}

func walk(root *html.Node, fn func(*html.Node) bool) {
	if !fn(root) {
		return
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func children(n *html.Node, elementsOnly bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !elementsOnly || c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func contains(root, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func findFirst(root *html.Node, tag string) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if isElement(n, tag) {
			found = n
			return false
		}
		return true
	})
	return found
}

func findAll(root *html.Node, tag string) []*html.Node {
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if n != root && n.Type == html.ElementNode && (tag == "*" || n.Data == tag) {
			out = append(out, n)
		}
		return true
	})
	return out
}

func findByID(root *html.Node, id string) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if v, ok := attr(n, "id"); ok && n.Type == html.ElementNode && v == id {
			found = n
			return false
		}
		return true
	})
	return found
}

func findByClass(root *html.Node, want []string) []*html.Node {
	if len(want) == 0 {
		return nil
	}
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if n == root || n.Type != html.ElementNode {
			return true
		}
		v, _ := attr(n, "class")
		have := strings.Fields(v)
		for _, w := range want {
			found := false
			for _, h := range have {
				if h == w {
					found = true
					break
				}
			}
			if !found {
				return true
			}
		}
		out = append(out, n)
		return true
	})
	return out
}

// query runs a CSS selector over the descendants of n. Invalid selectors
// match nothing.
func query(n *html.Node, selector string) []*html.Node {
	return goquery.NewDocumentFromNode(n).Find(selector).Nodes
}

func documentElement(doc *html.Node) *html.Node {
	if doc == nil {
		return nil
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

func setTextContent(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func cloneNode(n *html.Node, deep bool) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if deep {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			c.AppendChild(cloneNode(child, true))
		}
	}
	return c
}

func isJavaScript(n *html.Node) bool {
	t, ok := attr(n, "type")
	if !ok {
		return true
	}
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return true
	}
	return strings.Contains(t, "javascript") || strings.Contains(t, "ecmascript") || t == "text/jscript"
}

func camelCase(s string) string {
	parts := strings.Split(s, "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
