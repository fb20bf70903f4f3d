// Package cdc provides the public types and interfaces of the trigger-based
// replication engine.
//
// The package defines the metadata that describes a replicated table, the SQL
// statements produced while provisioning journal and watermark tables, the
// error taxonomy shared by every component, and the contract exposed to a
// host orchestration service.
//
// Key Components:
//   - TableSyncSpec / ColumnDescriptor: catalog metadata of a replicated table
//   - SQLStatement: one provisioning statement, tagged with the side it runs on
//   - Error: classified failure (catalog, connection, batch execution, ...)
//   - SyncService: the calls a host uses to drive replication of a table
package cdc
