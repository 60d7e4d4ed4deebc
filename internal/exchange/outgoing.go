package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rmskTV/advPlanner-sub000/internal/domain"
	"github.com/rmskTV/advPlanner-sub000/internal/enterprisedata"
	"github.com/rmskTV/advPlanner-sub000/internal/repository"
	"github.com/rmskTV/advPlanner-sub000/internal/retry"
	"github.com/rmskTV/advPlanner-sub000/internal/transport"
	"github.com/rmskTV/advPlanner-sub000/internal/txn"
)

// outgoingBatch is the content of one outbound message before numbering.
type outgoingBatch struct {
	objectType string
	objects    []*enterprisedata.Object
	queueIDs   []uuid.UUID
}

// outgoingMessage is one generated and uploaded message.
type outgoingMessage struct {
	fileName   string
	messageNo  int64
	receivedNo int64
	objects    int
	data       []byte
}

// RunOutgoing sends queued records and pending confirmations to the peer.
//
// Message numbers come from the store's counter inside the same transaction
// that marks queue items sent and confirmations retired, and the files are
// uploaded last, so a failed upload rolls all of it back. The first message
// carries ReceivedNo; with confirmations pending but nothing queued a
// confirmation-only message is sent.
func (o *Orchestrator) RunOutgoing(ctx context.Context, target Target) (CycleReport, error) {
	connector := target.Connector
	report := CycleReport{
		Connector: connector.Name,
		Direction: domain.DirectionOutgoing,
		StartedAt: o.now(),
		Files:     []FileOutcome{},
	}
	ctx, span := o.metrics.StartSpan(ctx, "exchange.outgoing", attribute.String("connector", connector.Name))
	defer span.End()
	logger := o.logger.With("connector", connector.Name, "direction", string(domain.DirectionOutgoing))

	var (
		sent     []outgoingMessage
		warnings []string
	)
	err := txn.WithRetry(ctx, o.policy, func(ctx context.Context) error {
		var uploaded []string
		err := o.transactor.InTransaction(ctx, func(ctx context.Context, store repository.ExchangeStore) error {
			var err error
			sent, warnings, err = o.sendPending(ctx, store, target, &uploaded, logger)
			return err
		})
		if err != nil {
			o.removeUploads(ctx, target, uploaded, logger)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		entry := domain.NewExchangeLogEntry(connector.ID, domain.DirectionOutgoing, "", report.StartedAt)
		entry.Status = domain.ExchangeFailed
		entry.CompletedAt = o.now()
		entry.Errors = append(entry.Errors, err.Error())
		entry.Warnings = append(entry.Warnings, warnings...)
		if logErr := o.store.AppendExchangeLog(context.WithoutCancel(ctx), entry); logErr != nil {
			logger.Error("failed to write exchange log", "error", logErr)
		}
		o.metrics.FileProcessed(ctx, connector.Name, string(domain.DirectionOutgoing), string(domain.ExchangeFailed))
		logger.Error("outgoing exchange failed", "error", err)
		report.Files = append(report.Files, FileOutcome{Status: domain.ExchangeFailed, Errors: entry.Errors, Warnings: entry.Warnings})
		return o.finish(ctx, report, logger), fmt.Errorf("outgoing exchange failed: %w", err)
	}

	if len(sent) == 0 {
		for _, w := range warnings {
			logger.Warn(w)
		}
		logger.Debug("nothing to send")
		return o.finish(ctx, report, logger), nil
	}

	for i, msg := range sent {
		entry := domain.NewExchangeLogEntry(connector.ID, domain.DirectionOutgoing, msg.fileName, report.StartedAt)
		entry.MessageNo = msg.messageNo
		entry.ObjectsCount = msg.objects
		entry.Status = domain.ExchangeCompleted
		entry.CompletedAt = o.now()
		if i == 0 {
			entry.Warnings = append(entry.Warnings, warnings...)
		}
		if err := o.store.AppendExchangeLog(ctx, entry); err != nil {
			logger.Error("failed to write exchange log", "file", msg.fileName, "error", err)
		}
		o.metrics.FileProcessed(ctx, connector.Name, string(domain.DirectionOutgoing), string(domain.ExchangeCompleted))
		logger.Info("outgoing message sent",
			"file", msg.fileName, "message_no", msg.messageNo, "received_no", msg.receivedNo, "objects", msg.objects)
		report.Files = append(report.Files, FileOutcome{
			FileName:   msg.fileName,
			MessageNo:  msg.messageNo,
			ReceivedNo: msg.receivedNo,
			Status:     domain.ExchangeCompleted,
			Objects:    msg.objects,
			Warnings:   entry.Warnings,
		})
	}
	return o.finish(ctx, report, logger), nil
}

// sendPending is the outgoing unit of work. Records that cannot be mapped are
// reported as warnings and stay queued.
func (o *Orchestrator) sendPending(ctx context.Context, store repository.ExchangeStore, target Target, uploaded *[]string, logger *slog.Logger) ([]outgoingMessage, []string, error) {
	connector := target.Connector
	items, err := store.ListPendingOutbound(ctx, connector.ID, o.batchSize)
	if err != nil {
		return nil, nil, err
	}
	receivedNo, pending, err := store.MaxUnconfirmed(ctx, connector.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(items) == 0 && !pending {
		return nil, nil, nil
	}

	batches, warnings := o.buildBatches(items)
	if len(batches) == 0 {
		if !pending {
			return nil, warnings, nil
		}
		batches = []outgoingBatch{{}}
	}

	now := o.now()
	version := o.outboundVersion(connector.ID)
	objectTypes := o.objectTypes()
	taken := map[string]bool{}
	messages := make([]outgoingMessage, 0, len(batches))
	for i, batch := range batches {
		messageNo, err := store.NextOutboundMessageNo(ctx, connector.ID)
		if err != nil {
			return nil, warnings, err
		}
		header := enterprisedata.Header{
			Format:               enterprisedata.FormatURI(version),
			CreationDate:         now,
			ExchangePlan:         connector.ExchangePlan,
			From:                 connector.OurNode(),
			To:                   connector.PeerNode(),
			MessageNo:            messageNo,
			AvailableVersions:    o.versions,
			AvailableObjectTypes: objectTypes,
		}
		if i == 0 && pending {
			header.ReceivedNo = receivedNo
		}

		data, err := o.codec.Generate(batch.objects, header)
		if err != nil {
			return nil, warnings, retry.Permanent(fmt.Errorf("failed to generate message %d: %w", messageNo, err))
		}
		if len(batch.queueIDs) > 0 {
			if err := store.MarkOutboundSent(ctx, batch.queueIDs, messageNo, now); err != nil {
				return nil, warnings, err
			}
		}
		name, err := target.Files.NextOutgoingName(ctx, taken)
		if err != nil {
			return nil, warnings, err
		}
		taken[name] = true
		messages = append(messages, outgoingMessage{
			fileName:   name,
			messageNo:  messageNo,
			receivedNo: header.ReceivedNo,
			objects:    len(batch.objects),
			data:       data,
		})
	}

	if pending {
		confirmed, err := store.ConfirmUpTo(ctx, connector.ID, receivedNo, now)
		if err != nil {
			return nil, warnings, err
		}
		logger.Debug("confirmations retired", "received_no", receivedNo, "rows", confirmed)
	}

	for _, msg := range messages {
		if err := target.Files.Upload(ctx, msg.fileName, msg.data); err != nil {
			var fileErr *transport.FileError
			if errors.As(err, &fileErr) {
				return nil, warnings, retry.Permanent(err)
			}
			return nil, warnings, err
		}
		*uploaded = append(*uploaded, msg.fileName)
	}
	return messages, warnings, nil
}

// buildBatches maps and sanitizes queued records and groups them by wire type
// in first-seen order.
func (o *Orchestrator) buildBatches(items []domain.OutboundItem) ([]outgoingBatch, []string) {
	var (
		warnings []string
		order    []string
		byType   = map[string]*outgoingBatch{}
		byRecord = map[string][]domain.OutboundItem{}
		rtOrder  []string
	)
	for _, item := range items {
		rt := item.Record.RecordType
		if _, ok := byRecord[rt]; !ok {
			rtOrder = append(rtOrder, rt)
		}
		byRecord[rt] = append(byRecord[rt], item)
	}

	for _, rt := range rtOrder {
		group := byRecord[rt]
		mapper, ok := o.registry.ResolveRecordType(rt)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("no mapper for record type %s, %d records left queued", rt, len(group)))
			continue
		}

		records := make([]domain.Record, len(group))
		for i, item := range group {
			records[i] = item.Record
		}
		objects, err := o.dispatcher.MapOutgoing(records, mapper.ObjectType())
		if err != nil {
			// Fall back to one record at a time so a single bad record stays queued alone.
			objects = make([]*enterprisedata.Object, len(group))
			for i, item := range group {
				obj, err := mapOutbound(mapper, item.Record)
				if err != nil {
					warnings = append(warnings, err.Error())
					continue
				}
				objects[i] = obj
			}
		}

		for i, obj := range objects {
			if obj == nil {
				continue
			}
			clean, err := o.sanitizer.SanitizeOutgoing(obj)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("record %s: %v", group[i].Record.ID, err))
				continue
			}
			batch, ok := byType[clean.Type]
			if !ok {
				batch = &outgoingBatch{objectType: clean.Type}
				byType[clean.Type] = batch
				order = append(order, clean.Type)
			}
			batch.objects = append(batch.objects, clean)
			batch.queueIDs = append(batch.queueIDs, group[i].QueueID)
		}
	}

	batches := make([]outgoingBatch, 0, len(order))
	for _, objectType := range order {
		batches = append(batches, *byType[objectType])
	}
	return batches, warnings
}

func (o *Orchestrator) removeUploads(ctx context.Context, target Target, names []string, logger *slog.Logger) {
	for _, name := range names {
		if err := target.Files.Remove(context.WithoutCancel(ctx), name); err != nil {
			logger.Warn("failed to remove file of a rolled back message", "file", name, "error", err)
		}
	}
}
