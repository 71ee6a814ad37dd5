// Package store provides the high-level interface for key-value operations on
// namespaced tables together with the unified error handling shared by the
// server and the client.
//
// Key Components:
//
//   - IStore Interface: Set, Get and Delete on a TableRef. The storage actor
//     (package core) and the network client (package rpc/client) both implement
//     it, so callers do not care whether the store is in-process or remote.
//
//   - Error System: failures carry a RetCode. The code's String() form is what
//     travels in a Fail message, ParseRetCode turns it back into a code on the
//     client side.
package store
