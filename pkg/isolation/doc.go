// Package isolation decides, for any module a component references, whether
// the module is served from the trusted shared core, from the component's
// own private location, or rejected outright. It owns the per-component
// LoadBoundary and the compiled-in loader used when true dynamic loading is
// unavailable.
//
// The boundary only decides where a module loads from, never how; the Loader
// is the collaborator that materialises code.
package isolation
