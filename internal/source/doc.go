// Tarantula - Broadcast Playout Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tarantula

// Package source holds the wire codec shared by the external event
// adapters: the raw TCP protocol and the web adapter both speak the
// same XML dialect for mutation requests and snapshot replies.
//
// # Request Documents
//
// A request is one XML document whose root carries an ActionType:
//
//	<Request>
//	  <ActionType>Add</ActionType>
//	  <Channel>one</Channel>
//	  <MCEvent>
//	    <Type>0</Type>
//	    <Trigger>1756100000</Trigger>
//	    <Device>show</Device>
//	    <Duration>1800</Duration>
//	    <ExtraData key="filename" value="EP01"/>
//	    <MCEvent>...</MCEvent>
//	  </MCEvent>
//	</Request>
//
// Top-level triggers are absolute unix seconds; a nested MCEvent's
// trigger is a second offset from its parent. Durations are seconds on
// the way in and whole frames on the way out, because snapshot replies
// mirror playlist rows exactly as the engine holds them.
//
// # Reply Documents
//
// Mutation actions answer with a status line; update actions answer
// with one of the snapshot documents (Playlist, Devices, Actions,
// Processors, Files) encoded here. Snapshots encode compact, without
// internal newlines, so the raw protocol can frame them as single
// lines. Map-backed sections are sorted so identical state yields
// identical bytes.
package source
