// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stepenv assembles the environment of a step's child
// process from endpoints, secure files, task inputs, job and task
// variables, and the PATH prepend list.
//
// The variable names produced here are a compatibility contract with
// existing tasks and must not change:
//
//	ENDPOINT_URL_<key>            ENDPOINT_AUTH_<key>
//	ENDPOINT_AUTH_SCHEME_<key>    ENDPOINT_AUTH_PARAMETER_<key>_<PARAM>
//	ENDPOINT_DATA_<key>           ENDPOINT_DATA_<key>_<NAME>
//	SECUREFILE_NAME_<id>          SECUREFILE_TICKET_<id>
//	INPUT_<NAME>                  <NAME> and SECRET_<NAME>
//	VSTS_PUBLIC_VARIABLES         VSTS_SECRET_VARIABLES
//	VSTS_TASKVARIABLE_<NAME>      PATH
//
// Map-valued sources (inputs, endpoint parameters and data) are
// emitted in sorted key order, so assembling twice from the same
// inputs produces identical tables.
package stepenv
