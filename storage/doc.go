// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage provides the document store abstraction for persist.
//
// This package defines the connection interfaces the persistence engine
// drives, the Document type they exchange, the statement language every
// backend understands, and the binary document codec used by embedded
// backends.
//
// # Constructor Return Type Pattern
//
// Backend packages return their concrete connection types; callers hold
// them through the storage.Connection interface:
//
//	var conn storage.Connection
//	conn, err = badger.NewMemoryConnection()
//
// # Architecture
//
//   - Session: identity-addressed load/save/delete, statement execution,
//     collection existence checks
//   - Connection: a Session that can begin transactions and be closed
//   - Tx: a Session bound to one transaction, finished by Commit or Rollback
//
// Transactions are explicit handles. There is no ambient "current
// transaction": operations issued on the Connection run in their own
// implicit transaction, operations issued on a Tx run inside it.
//
// # Statements
//
//	select [*] from <collection> [where <cond>] [order by <field> [asc|desc]] [limit <n>]
//	delete from <collection> [where <cond>]
//	create class <collection>
//
// Conditions support comparison operators, and/or/not, membership
// (field in (:values)), dotted paths into embedded documents, and named
// (:name) or positional (?) parameters.
//
// # Thread Safety
//
// Connection implementations must be safe for concurrent use. A Tx must
// not be shared between goroutines.
package storage
