// Package lifecycle provides owner scopes that end subscriptions when the
// consumer they belong to goes away.
//
// Anything with an OnDestroy registration method is an [Owner]. The package
// ships two implementations:
//
//   - [Scope], an explicit tree of scopes destroyed by calling Destroy
//   - [FromContext], an owner destroyed when a context is done
//
// A subscription bound to an owner is released exactly once, when the owner
// is destroyed. Binding never keeps an owner alive, and an owner that is
// never destroyed keeps its subscriptions for the life of the process.
package lifecycle
