/*
Package policy implements the "human policy" expression grammar (boolean
combinators over quoted attribute predicates such as "role=FRONTEND@A") and
the AccessCondition aggregate that stores it.

Evaluate is the single entry point pkg/path and pkg/secret use to authorize
a claim against a policy's stored expression.
*/
package policy
