// Package governance provides runtime safety primitives for the component
// host: keyed token-bucket admission control and timeout budgets. The
// throttle component and the host's chain deadline selection depend on these
// without introducing extra infrastructure coupling.
package governance
