// Package model defines domain data structures shared across the core:
// tasks, status enums, and parsed format entries. Structures carry no
// internal locking; owners serialize access and enforce explicit state
// transitions.
package model
